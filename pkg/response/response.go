package response

import (
	"context"
	"net/http"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/rinario-studio/inboxd/pkg/errcode"
)

// Response represents a standard API response
type Response struct {
	Code  int         `json:"code"`
	Msg   string      `json:"msg"`
	Field string      `json:"field,omitempty"`
	Data  interface{} `json:"data,omitempty"`
}

// Success sends a success response
func Success(ctx context.Context, c *app.RequestContext, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Code: 0,
		Msg:  "success",
		Data: data,
	})
}

// Error sends an error response. Validation errors carry the offending
// field name so the caller knows which input to fix.
func Error(ctx context.Context, c *app.RequestContext, err error) {
	var code int
	var msg, field string

	if e, ok := err.(*errcode.Error); ok {
		code = e.Code
		msg = e.Msg
		field = e.Field
	} else {
		code = errcode.ErrInternalServer.Code
		msg = err.Error()
	}

	c.JSON(http.StatusOK, Response{
		Code:  code,
		Msg:   msg,
		Field: field,
	})
}

// ErrorWithCode sends an error response with specific error code
func ErrorWithCode(ctx context.Context, c *app.RequestContext, e *errcode.Error) {
	c.JSON(http.StatusOK, Response{
		Code:  e.Code,
		Msg:   e.Msg,
		Field: e.Field,
	})
}

// Unauthorized sends a 401 unauthorized response
func Unauthorized(ctx context.Context, c *app.RequestContext, msg string) {
	if msg == "" {
		msg = "unauthorized"
	}
	c.JSON(http.StatusUnauthorized, Response{
		Code: errcode.ErrUnauthorized.Code,
		Msg:  msg,
	})
}
