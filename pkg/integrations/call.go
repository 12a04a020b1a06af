package integrations

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	httputil "github.com/fitglue/workoutsync/pkg/infrastructure/http"
	"github.com/fitglue/workoutsync/pkg/infrastructure/metrics"
	"github.com/fitglue/workoutsync/pkg/types"
)

// maxBodySize caps how much of a vendor response is read.
const maxBodySize = 10 << 20

// Result is the outcome of one vendor call. Retry decisions are taken from it alone.
type Result[T any] struct {
	Value  T
	Status int
	Body   []byte
	Err    error
}

func (r Result[T]) OK() bool {
	return r.Err == nil && r.Status >= 200 && r.Status < 300
}

func (r Result[T]) Unauthorized() bool {
	return r.Status == http.StatusUnauthorized
}

// Transient reports a transport failure or a 5xx.
func (r Result[T]) Transient() bool {
	return r.Status >= http.StatusInternalServerError || (r.Status == 0 && r.Err != nil)
}

// Error classifies a failed result; nil when OK.
func (r Result[T]) Error(provider types.Provider) error {
	switch {
	case r.OK():
		return nil
	case r.Transient():
		err := r.Err
		if err == nil {
			err = httputil.NewHTTPError(r.Status, r.Body, "")
		}
		return &TransientVendorError{Provider: provider, StatusCode: r.Status, Err: err}
	case r.Status == http.StatusUnauthorized || r.Status == http.StatusForbidden:
		return &VendorAuthError{Provider: provider, StatusCode: r.Status, Message: VendorMessage(r.Body)}
	case r.Err != nil:
		return r.Err
	default:
		return httputil.NewHTTPError(r.Status, r.Body, "")
	}
}

// Message is a one-line description for error callbacks and logs.
func (r Result[T]) Message() string {
	if err := r.Error(""); err != nil {
		return err.Error()
	}
	return ""
}

// Call performs req and decodes a 2xx JSON body into T. It never panics and never
// returns a bare error: status, body and error all travel in the Result.
func Call[T any](client *http.Client, req *http.Request, provider types.Provider, endpoint string) Result[T] {
	var res Result[T]
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "application/json")
	}

	started := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		metrics.RecordVendorRequest(provider.String(), endpoint, 0, time.Since(started))
		res.Err = fmt.Errorf("%s %s: %w", req.Method, endpoint, err)
		return res
	}
	defer resp.Body.Close()
	metrics.RecordVendorRequest(provider.String(), endpoint, resp.StatusCode, time.Since(started))

	res.Status = resp.StatusCode
	res.Body, err = io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		res.Err = fmt.Errorf("read %s response: %w", endpoint, err)
		return res
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 || len(res.Body) == 0 {
		return res
	}

	switch v := any(&res.Value).(type) {
	case *[]byte:
		*v = res.Body
	default:
		if err := json.Unmarshal(res.Body, &res.Value); err != nil {
			res.Err = fmt.Errorf("%w: decode %s: %v", ErrDataShape, endpoint, err)
		}
	}
	return res
}
