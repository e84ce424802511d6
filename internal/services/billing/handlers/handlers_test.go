package handlers

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/chatwave-go/internal/domain/billing"
	"github.com/chatwave-go/pkg/logger"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func TestRespondErrorMapping(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := New(nil, logger.NewNop())

	cases := []struct {
		name   string
		err    error
		status int
	}{
		{"validation", billing.ValidationError("priceId is required"), http.StatusBadRequest},
		{"not found", billing.NotFoundError("subscription"), http.StatusNotFound},
		{"provider", billing.ProviderError(errors.New("rate limited")), http.StatusBadGateway},
		{"unknown", errors.New("disk full"), http.StatusInternalServerError},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(w)
			c.Request = httptest.NewRequest(http.MethodGet, "/", nil)

			h.respondError(c, tc.err)
			assert.Equal(t, tc.status, w.Code)
		})
	}
}
