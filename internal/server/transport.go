package server

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/eniz1806/CloudEmu/internal/apierr"
	"github.com/eniz1806/CloudEmu/internal/errmap"
	"github.com/eniz1806/CloudEmu/internal/middleware"
)

// Namespace selection headers. Absent headers fall back to the configured
// default namespace.
const (
	headerAccount = "X-Cloudemu-Account"
	headerRegion  = "X-Cloudemu-Region"
	headerTarget  = "X-Amz-Target"
)

// maxRequestBody bounds a request body. Object payloads travel base64
// encoded inside it.
const maxRequestBody = 64 << 20

type errorResponse struct {
	Type    string `json:"__type"`
	Message string `json:"message"`
}

type describeResponse struct {
	Service string   `json:"Service"`
	Actions []string `json:"Actions"`
}

// describeHandler serves GET /{service} with the actions the service
// dispatches.
func (s *Server) describeHandler(w http.ResponseWriter, r *http.Request) {
	svc := errmap.Service(r.PathValue("service"))
	switch svc {
	case errmap.S3, errmap.DynamoDB, errmap.SQS, errmap.SNS:
	default:
		http.NotFound(w, r)
		return
	}
	set, err := s.registry.For(s.cfg.Namespace.AccountID, s.cfg.Namespace.Region)
	if err != nil {
		writeError(w, svc, err)
		return
	}
	writeJSON(w, http.StatusOK, describeResponse{Service: string(svc), Actions: set.Table(svc).Actions()})
}

// serviceHandler serves POST /{service}. The action comes from the
// X-Amz-Target header or the Action query parameter, the input is the JSON
// body, and the result is written back as JSON.
func (s *Server) serviceHandler(w http.ResponseWriter, r *http.Request) {
	svc := errmap.Service(r.PathValue("service"))
	switch svc {
	case errmap.S3, errmap.DynamoDB, errmap.SQS, errmap.SNS:
	default:
		http.NotFound(w, r)
		return
	}

	action := r.Header.Get(headerTarget)
	if action == "" {
		action = r.URL.Query().Get("Action")
	}
	if strings.TrimSpace(action) == "" {
		writeError(w, svc, apierr.InvalidArgument(apierr.Resource{Type: apierr.ResourceOperation, Container: string(svc)},
			apierr.ReasonUnknownOperation, "missing action"))
		return
	}

	account, region := r.Header.Get(headerAccount), r.Header.Get(headerRegion)
	if account == "" {
		account = s.cfg.Namespace.AccountID
	}
	if region == "" {
		region = s.cfg.Namespace.Region
	}
	middleware.Annotate(r.Context(), middleware.Call{Action: action, Account: account, Region: region})

	set, err := s.registry.For(account, region)
	if err != nil {
		writeError(w, svc, err)
		return
	}
	if s.limiter != nil && !s.limiter.Allow(middleware.ClientIP(r), account) {
		if s.metrics != nil {
			s.metrics.ObserveThrottled(string(svc))
		}
		m := errmap.Throttled(svc)
		writeJSON(w, m.Status, errorResponse{Type: m.Code, Message: m.Message})
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRequestBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			err = apierr.InvalidArgument(apierr.Resource{Type: apierr.ResourceOperation, Name: action},
				apierr.ReasonMalformedInput, "request body exceeds %d bytes", maxRequestBody)
		}
		writeError(w, svc, err)
		return
	}

	out, err := set.Table(svc).Dispatch(r.Context(), action, json.RawMessage(body))
	if err != nil {
		if apierr.KindOf(err) == apierr.KindInternal {
			slog.Error("operation failed", "service", svc, "action", action, "namespace", set.Namespace.String(), "error", err)
		}
		writeError(w, svc, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("write response", "error", err)
	}
}

func writeError(w http.ResponseWriter, svc errmap.Service, err error) {
	m := errmap.Map(svc, err)
	writeJSON(w, m.Status, errorResponse{Type: m.Code, Message: m.Message})
}
