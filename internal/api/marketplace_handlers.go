package api

import (
	"errors"
	"net"
	"net/http"

	"github.com/ignite/leadgen-site/internal/marketplace"
	"github.com/ignite/leadgen-site/internal/pkg/httputil"
)

const maxRegistrationBody = 64 << 10

// RegisterMarketplace accepts a vendor registration.
//
//	POST /api/marketplace/registrations
func (h *Handlers) RegisterMarketplace(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRegistrationBody)

	var req marketplace.RegistrationRequest
	if !httputil.Decode(w, r, &req) {
		return
	}

	res, err := h.marketplace.Register(r.Context(), &req, clientIP(r))
	if err != nil {
		var verr *marketplace.ValidationError
		if errors.As(err, &verr) {
			httputil.ErrorWithCode(w, http.StatusBadRequest, "validation failed", "invalid_registration", verr)
			return
		}
		respondSafeError(w, h.config, http.StatusInternalServerError, err)
		return
	}

	httputil.Created(w, map[string]interface{}{
		"success": true,
		"id":      res.ID,
		"total":   res.Total,
	})
}

// MarketplaceCount returns the public registration counter.
//
//	GET /api/marketplace/registrations/count
func (h *Handlers) MarketplaceCount(w http.ResponseWriter, r *http.Request) {
	count, err := h.marketplace.Count(r.Context())
	if err != nil {
		respondSafeError(w, h.config, http.StatusInternalServerError, err)
		return
	}
	httputil.OK(w, count)
}

// clientIP returns the host part of RemoteAddr, which middleware.RealIP
// has already rewritten from proxy headers.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
