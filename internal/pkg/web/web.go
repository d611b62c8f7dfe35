package web

import (
	"bytes"
	"github.com/rs/zerolog/log"
	"html/template"
	"net/http"
)

func RenderTemplate(templates *template.Template, templateName string, data any) ([]byte, error) {
	var buffer bytes.Buffer
	if err := templates.ExecuteTemplate(&buffer, templateName, data); err != nil {
		return nil, err
	}
	return buffer.Bytes(), nil
}

func RenderResponse(status int, templates *template.Template, templateName string, data any, headers Headers, cookies ...*http.Cookie) *Response {
	content, err := RenderTemplate(templates, templateName, data)
	if err != nil {
		log.Error().Err(err).Str("template_name", templateName).Msg("templates.ExecuteTemplate() failed")
		return GetEmptyResponse(http.StatusInternalServerError, nil)
	}

	return GetResponse(status, content, headers, cookies...).withContentType("text/html; charset=utf-8")
}

func GetEmptyResponse(status int, headers Headers, cookies ...*http.Cookie) *Response {
	return GetResponse(status, []byte(""), headers, cookies...)
}

func GetResponse(status int, content []byte, headers Headers, cookies ...*http.Cookie) *Response {
	response := &Response{
		Status:  status,
		Content: content,
		Headers: headers,
	}
	for _, cookie := range cookies {
		response.WithCookie(cookie)
	}
	return response
}

func (response *Response) withContentType(contentType string) *Response {
	response.ContentType = contentType
	return response
}
