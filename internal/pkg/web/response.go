package web

import (
	"github.com/rs/zerolog/log"
	"net/http"
)

type Response struct {
	Status      int
	ContentType string
	Content     []byte
	Headers     Headers
	Cookies     []*http.Cookie
}

func (response *Response) WithCookie(cookie *http.Cookie) *Response {
	if response != nil && cookie != nil {
		response.Cookies = append(response.Cookies, cookie)
	}
	return response
}

func (response *Response) Write(responseWriter http.ResponseWriter) {
	if response != nil {
		for _, cookie := range response.Cookies {
			http.SetCookie(responseWriter, cookie)
		}
		if response.ContentType != "" {
			responseWriter.Header().Set("Content-Type", response.ContentType)
		}
		for k, v := range response.Headers {
			responseWriter.Header().Set(k, v)
		}
		responseWriter.WriteHeader(response.Status)
		if _, err := responseWriter.Write(response.Content); err != nil {
			log.Debug().Err(err).Msg("http.ResponseWriter.Write() failed")
		}
	} else {
		responseWriter.WriteHeader(http.StatusOK)
	}
}
