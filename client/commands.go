package client

import (
	"github.com/unicitynetwork/nostr-go-sdk/event"
	"github.com/unicitynetwork/nostr-go-sdk/filter"
)

// command is the sum type of requests the run loop processes; every public
// Client method builds one of these and hands it to c.cmds rather than
// mutating state directly, keeping every mutation on the single loop
// goroutine (§5).
type command interface{}

type cmdPublish struct {
	ev     *event.Event
	result chan PublishResult
}

type cmdSubscribe struct {
	id         string
	filter     *filter.Filter
	sub        Subscription
	result     chan error
	assignedID chan string
}

type cmdUnsubscribe struct {
	id   string
	done chan struct{}
}

type cmdClose struct {
	done chan struct{}
}

// cmdAckTimeout is self-posted by a publish's 5s timer.
type cmdAckTimeout struct {
	eventID string
}

// cmdAuthResend is self-posted 100ms after an AUTH challenge is answered.
type cmdAuthResend struct {
	url string
}

// cmdNametagEvent/cmdNametagTerminate are self-posted by ResolveNametag's
// subscription callbacks and its query timer.
type cmdNametagEvent struct {
	state *nametagResolveState
	ev    *event.Event
}

type cmdNametagTerminate struct {
	state *nametagResolveState
}
