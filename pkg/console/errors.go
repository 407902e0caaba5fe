package console

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/lkarlslund/proxydesk/pkg/authflow"
	"github.com/lkarlslund/proxydesk/pkg/backend"
	"github.com/lkarlslund/proxydesk/pkg/forms"
	"github.com/lkarlslund/proxydesk/pkg/pages"
)

var errBadRequest = errors.New("invalid request body")

type errorBody struct {
	Error          string         `json:"error"`
	Field          string         `json:"field,omitempty"`
	UpstreamStatus int            `json:"upstream_status,omitempty"`
	Session        *authflow.View `json:"session,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// statusFor maps an error from the page and flow controllers to a response
// status.
func statusFor(err error) int {
	var (
		ve  *forms.ValidationError
		he  *backend.HTTPError
		se  *json.SyntaxError
		ute *json.UnmarshalTypeError
	)
	switch {
	case errors.Is(err, pages.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, pages.ErrUnknownPage), errors.Is(err, errFlowNotFound):
		return http.StatusNotFound
	case errors.Is(err, pages.ErrUnsupported):
		return http.StatusMethodNotAllowed
	case errors.Is(err, forms.ErrSubmitting), errors.Is(err, authflow.ErrBusy), errors.Is(err, authflow.ErrNoSession):
		return http.StatusConflict
	case errors.As(err, &ve),
		errors.Is(err, authflow.ErrEmptyCallback),
		errors.Is(err, authflow.ErrUnparseableCallback),
		errors.Is(err, authflow.ErrMissingState),
		errors.Is(err, authflow.ErrMissingCodeOrError),
		errors.Is(err, authflow.ErrCookieRequired):
		return http.StatusUnprocessableEntity
	case errors.Is(err, errBadRequest), errors.Is(err, authflow.ErrUnknownAuthType),
		errors.Is(err, authflow.ErrNotCookieType), errors.As(err, &se), errors.As(err, &ute):
		return http.StatusBadRequest
	case errors.As(err, &he):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error, view *authflow.View) {
	status := statusFor(err)
	body := errorBody{Error: err.Error(), Session: view}
	var ve *forms.ValidationError
	if errors.As(err, &ve) {
		body.Field = ve.Field
	}
	var he *backend.HTTPError
	if errors.As(err, &he) {
		body.Error = backend.Message(err)
		body.UpstreamStatus = he.StatusCode
	}
	if status >= http.StatusInternalServerError {
		s.logger.Warn("console request failed", "method", r.Method, "path", r.URL.Path, "status", status, "err", err)
	}
	writeJSON(w, status, body)
}
