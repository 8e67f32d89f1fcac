// File: internal/engine/objects.go
package engine

import (
	"context"
	"encoding/json"
	"errors"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/marionet/internal/protocol"
)

var codec = jsoniter.ConfigCompatibleWithStandardLibrary

// guidRef is the wire shape of an object reference inside params or results.
type guidRef struct {
	GUID string `json:"guid"`
}

// object is the embedded base of every engine-side proxy. It binds a proxy
// to its channel and gives it command and event plumbing.
type object struct {
	eng    *Engine
	ch     *protocol.Channel
	logger *zap.Logger
}

func newObject(eng *Engine, ch *protocol.Channel) object {
	return object{
		eng:    eng,
		ch:     ch,
		logger: eng.logger.With(zap.String("guid", ch.GUID()), zap.String("kind", string(ch.Kind()))),
	}
}

// GUID identifies the underlying channel.
func (o *object) GUID() string { return o.ch.GUID() }

// Kind reports the remote object kind.
func (o *object) Kind() protocol.Kind { return o.ch.Kind() }

// send issues a command on this object's channel. Using a disposed proxy
// fails with DetachedError before anything reaches the wire, and a remote
// detach reported by the endpoint is normalized to the same error.
func (o *object) send(ctx context.Context, method string, params any) (json.RawMessage, error) {
	if o.ch.Detached() {
		return nil, o.ch.DetachedErr()
	}
	res, err := o.eng.conn.Send(ctx, o.ch.GUID(), method, params)
	if err != nil {
		var pe *protocol.ProtocolError
		if errors.As(err, &pe) && pe.Name == "DetachedError" {
			return nil, o.ch.DetachedErr()
		}
		return nil, err
	}
	return res, nil
}

// on registers a persistent handler for one of this object's events.
func (o *object) on(event string, fn protocol.EventHandler) *protocol.Subscription {
	return o.eng.conn.Dispatcher().On(o.ch.GUID(), event, fn)
}

// Request is the read-only proxy of one network request.
type Request struct {
	object

	url    string
	method string
}

func newRequest(eng *Engine, ch *protocol.Channel) *Request {
	r := &Request{object: newObject(eng, ch)}
	var init struct {
		URL    string `json:"url"`
		Method string `json:"method"`
	}
	if err := codec.Unmarshal(ch.Initializer(), &init); err != nil {
		r.logger.Warn("Undecodable request initializer.", zap.Error(err))
	}
	r.url = init.URL
	r.method = init.Method
	return r
}

// URL returns the request URL.
func (r *Request) URL() string { return r.url }

// Method returns the HTTP method.
func (r *Request) Method() string { return r.method }

// Response is the read-only proxy of one network response.
type Response struct {
	object

	url    string
	status int
}

func newResponse(eng *Engine, ch *protocol.Channel) *Response {
	r := &Response{object: newObject(eng, ch)}
	var init struct {
		URL    string `json:"url"`
		Status int    `json:"status"`
	}
	if err := codec.Unmarshal(ch.Initializer(), &init); err != nil {
		r.logger.Warn("Undecodable response initializer.", zap.Error(err))
	}
	r.url = init.URL
	r.status = init.Status
	return r
}

// URL returns the response URL.
func (r *Response) URL() string { return r.url }

// Status returns the HTTP status code.
func (r *Response) Status() int { return r.status }

// remoteObject is the proxy for kinds the engine exposes no dedicated type
// for (workers, dialogs, CDP sessions). They still participate in the
// registry lifecycle and event bus.
type remoteObject struct {
	object
}

func newRemoteObject(eng *Engine, ch *protocol.Channel) *remoteObject {
	return &remoteObject{object: newObject(eng, ch)}
}
