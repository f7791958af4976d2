package handlers

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
)

const defaultCallTimeout = 10 * time.Second

type outboundRequest struct {
	Method  string
	URL     string
	Headers map[string]string
	Body    any
}

type outboundResponse struct {
	Status int
	Body   []byte
}

// send performs one HTTP call through a fiber client agent. The agent is
// released by Bytes.
func send(ctx context.Context, r outboundRequest) (*outboundResponse, error) {
	a := fiber.AcquireAgent()
	req := a.Request()
	req.Header.SetMethod(r.Method)
	req.SetRequestURI(r.URL)
	for k, v := range r.Headers {
		req.Header.Set(k, v)
	}
	switch body := r.Body.(type) {
	case nil:
	case string:
		a.BodyString(body)
	default:
		a.JSON(body)
	}
	if err := a.Parse(); err != nil {
		fiber.ReleaseAgent(a)
		return nil, err
	}
	a.Timeout(callTimeout(ctx))

	status, body, errs := a.Bytes()
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return &outboundResponse{Status: status, Body: body}, nil
}

func callTimeout(ctx context.Context) time.Duration {
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining > 0 {
			return remaining
		}
		return time.Millisecond
	}
	return defaultCallTimeout
}
