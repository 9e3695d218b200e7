package dao

import (
	"time"
)

const ErrNoAnswer = "No answer from server in given time."

// RequestResult is carried by every response under the "res" key.
type RequestResult struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// Reply is implemented by every response record.
type Reply interface {
	Result() *RequestResult
	SetResult(res *RequestResult)
}

type Response struct {
	Res *RequestResult `json:"res"`
}

func (r *Response) Result() *RequestResult {
	if r.Res == nil {
		return &RequestResult{}
	}
	return r.Res
}

func (r *Response) SetResult(res *RequestResult) {
	r.Res = res
}

func (r *Response) OK() bool {
	return r.Res != nil && r.Res.Success
}

func OK() Response {
	return Response{Res: &RequestResult{Success: true}}
}

func Fail(msg string) Response {
	return Response{Res: &RequestResult{Success: false, Error: msg}}
}

// Timestamp is a fixed point instant without leap seconds.
type Timestamp struct {
	Seconds int64 `json:"seconds,omitempty"`
	Nanos   int32 `json:"nanos,omitempty" validate:"gte=0,lte=999999999"`
}

func NewTimestamp(t time.Time) *Timestamp {
	if t.IsZero() {
		return nil
	}
	return &Timestamp{
		Seconds: t.Unix(),
		Nanos:   int32(t.Nanosecond()),
	}
}

func (ts *Timestamp) Time() time.Time {
	if ts == nil {
		return time.Time{}
	}
	return time.Unix(ts.Seconds, int64(ts.Nanos)).UTC()
}
