package web

import (
	"net/http"
	"time"
)

type Headers map[string]string

type RequestFunc func(request *http.Request) *Response

// Handler adapts a RequestFunc to http.Handler. SimulatedDelay (milliseconds) slows every
// response down to make HTMX loading indicators visible during development.
type Handler struct {
	Request        RequestFunc
	SimulatedDelay int
}

func (handler Handler) ServeHTTP(responseWriter http.ResponseWriter, request *http.Request) {
	if handler.SimulatedDelay > 0 {
		time.Sleep(time.Duration(handler.SimulatedDelay) * time.Millisecond)
	}
	handler.Request(request).Write(responseWriter)
}

func Redirect(location string) *Response {
	return GetEmptyResponse(http.StatusSeeOther, Headers{"Location": location}, nil)
}

// HxRedirect makes HTMX replace the whole page with location.
func HxRedirect(location string, cookie *http.Cookie) *Response {
	return GetEmptyResponse(http.StatusOK, Headers{"HX-Redirect": location}, cookie)
}
