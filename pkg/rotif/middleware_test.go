package rotif

import (
	"errors"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
)

func newTestMiddlewareChain() (*middlewareChain, *test.Hook) {
	logger, hook := test.NewNullLogger()
	return newMiddlewareChain(logger), hook
}

func TestMiddlewareChain_RunBeforePublish(t *testing.T) {
	c, _ := newTestMiddlewareChain()

	var gotChannel string
	var gotPayload []byte
	c.use(Middleware{BeforePublish: func(channel string, payload []byte, _ PublishOptions) {
		gotChannel = channel
		gotPayload = payload
	}})

	c.runBeforePublish("orders.created", []byte("payload"), PublishOptions{})

	if gotChannel != "orders.created" {
		t.Errorf("channel = %q, want orders.created", gotChannel)
	}
	if string(gotPayload) != "payload" {
		t.Errorf("payload = %q, want payload", gotPayload)
	}
}

func TestMiddlewareChain_NilHooksAreSkipped(t *testing.T) {
	c, _ := newTestMiddlewareChain()
	c.use(Middleware{}) // every hook nil

	// Must not panic calling any of these on an all-nil Middleware.
	c.runBeforePublish("ch", nil, PublishOptions{})
	c.runAfterPublish("ch", nil, "id", PublishOptions{})
	c.runBeforeProcess(&Message{})
	c.runAfterProcess(&Message{})
	c.runOnError(&Message{}, errors.New("boom"))
}

func TestMiddlewareChain_MultipleHooksAllRun(t *testing.T) {
	c, _ := newTestMiddlewareChain()

	var calls []int
	c.use(Middleware{BeforeProcess: func(_ *Message) { calls = append(calls, 1) }})
	c.use(Middleware{BeforeProcess: func(_ *Message) { calls = append(calls, 2) }})

	c.runBeforeProcess(&Message{})

	if len(calls) != 2 || calls[0] != 1 || calls[1] != 2 {
		t.Errorf("calls = %v, want [1 2] in registration order", calls)
	}
}

func TestMiddlewareChain_PanicIsCaughtAndLogged(t *testing.T) {
	c, hook := newTestMiddlewareChain()

	ran := false
	c.use(Middleware{OnError: func(_ *Message, _ error) { panic("middleware exploded") }})
	c.use(Middleware{OnError: func(_ *Message, _ error) { ran = true }})

	c.runOnError(&Message{}, errors.New("boom"))

	if !ran {
		t.Error("a panicking hook must not block later hooks in the chain")
	}

	entries := hook.AllEntries()
	if len(entries) != 1 || entries[0].Level != logrus.ErrorLevel {
		t.Errorf("expected exactly one error-level log entry for the recovered panic, got %d entries", len(entries))
	}
}

func TestMiddlewareChain_AfterPublishReceivesResult(t *testing.T) {
	c, _ := newTestMiddlewareChain()

	var gotResult string
	c.use(Middleware{AfterPublish: func(_ string, _ []byte, result string, _ PublishOptions) {
		gotResult = result
	}})

	c.runAfterPublish("orders.created", nil, "1700000000000-0", PublishOptions{})

	if gotResult != "1700000000000-0" {
		t.Errorf("result = %q, want stream id", gotResult)
	}
}
