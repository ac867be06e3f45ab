package rotif

import "github.com/sirupsen/logrus"

// Middleware is a capability record: implementations provide whichever
// hooks are relevant and leave the rest nil. This replaces runtime dispatch
// on a hook-name string with ordinary nil checks at each call site.
type Middleware struct {
	BeforePublish func(channel string, payload []byte, opts PublishOptions)
	AfterPublish  func(channel string, payload []byte, result string, opts PublishOptions)
	BeforeProcess func(msg *Message)
	AfterProcess  func(msg *Message)
	OnError       func(msg *Message, err error)
}

// middlewareChain runs an ordered list of Middleware, catching and logging
// panics from any single hook so that one broken hook cannot block delivery
// beyond its own step.
type middlewareChain struct {
	hooks  []Middleware
	logger *logrus.Logger
}

func newMiddlewareChain(logger *logrus.Logger) *middlewareChain {
	return &middlewareChain{logger: logger}
}

func (c *middlewareChain) use(m Middleware) {
	c.hooks = append(c.hooks, m)
}

func (c *middlewareChain) runBeforePublish(channel string, payload []byte, opts PublishOptions) {
	for _, h := range c.hooks {
		if h.BeforePublish == nil {
			continue
		}
		c.safely("beforePublish", func() { h.BeforePublish(channel, payload, opts) })
	}
}

func (c *middlewareChain) runAfterPublish(channel string, payload []byte, result string, opts PublishOptions) {
	for _, h := range c.hooks {
		if h.AfterPublish == nil {
			continue
		}
		c.safely("afterPublish", func() { h.AfterPublish(channel, payload, result, opts) })
	}
}

func (c *middlewareChain) runBeforeProcess(msg *Message) {
	for _, h := range c.hooks {
		if h.BeforeProcess == nil {
			continue
		}
		c.safely("beforeProcess", func() { h.BeforeProcess(msg) })
	}
}

func (c *middlewareChain) runAfterProcess(msg *Message) {
	for _, h := range c.hooks {
		if h.AfterProcess == nil {
			continue
		}
		c.safely("afterProcess", func() { h.AfterProcess(msg) })
	}
}

func (c *middlewareChain) runOnError(msg *Message, err error) {
	for _, h := range c.hooks {
		if h.OnError == nil {
			continue
		}
		c.safely("onError", func() { h.OnError(msg, err) })
	}
}

func (c *middlewareChain) safely(hook string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.WithField("hook", hook).WithField("panic", r).Error("middleware hook panicked, continuing")
		}
	}()
	fn()
}
