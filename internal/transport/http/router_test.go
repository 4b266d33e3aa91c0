package httptransport

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"certledger/internal/events"
	insthandler "certledger/internal/institution/handler"
	instservice "certledger/internal/institution/service"
	inststore "certledger/internal/institution/store"
	"certledger/internal/ledger/adapters"
	ledgerhandler "certledger/internal/ledger/handler"
	ledgerservice "certledger/internal/ledger/service"
	ledgerstore "certledger/internal/ledger/store"
	"certledger/internal/mirror"
	mirrorhandler "certledger/internal/mirror/handler"
	"certledger/internal/token"
	verifhandler "certledger/internal/verification/handler"
	verifservice "certledger/internal/verification/service"
	verifstore "certledger/internal/verification/store"
	id "certledger/pkg/domain"
	dErrors "certledger/pkg/domain-errors"
	"certledger/pkg/fingerprint"
)

var (
	issuer    = "0x" + strings.Repeat("aa", 20)
	recipient = "0x" + strings.Repeat("bb", 20)
)

type RouterSuite struct {
	suite.Suite
	server      *httptest.Server
	accessToken string
	cancel      context.CancelFunc
}

func TestRouterSuite(t *testing.T) {
	suite.Run(t, new(RouterSuite))
}

func (s *RouterSuite) SetupTest() {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	publisher := events.NewChanPublisher(64, logger)

	directory := instservice.New(inststore.NewInMemory())
	ledger := ledgerservice.New(ledgerstore.NewInMemory(), adapters.NewDirectoryAdapter(directory),
		ledgerservice.WithPublisher(publisher))
	engine := verifservice.New(verifstore.NewInMemory(), ledger,
		verifservice.WithPublisher(publisher))

	viewStore := mirror.NewMemoryViewStore()
	views := mirror.New(viewStore, ledger)
	worker := mirror.NewWorker(viewStore, publisher.Events())
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	go worker.Run(ctx)

	tokens := token.NewService("test-signing-key", "certledger")
	identity, err := id.ParseAddress(issuer)
	s.Require().NoError(err)
	signed, err := tokens.GenerateAccessToken(identity, time.Hour)
	s.Require().NoError(err)
	s.accessToken = signed

	router := NewRouter(Dependencies{
		Logger:         logger,
		TokenValidator: tokens,
		Institutions:   insthandler.New(directory, logger),
		Ledger:         ledgerhandler.New(ledger, directory, engine, logger),
		Verifications:  verifhandler.New(engine, logger),
		Mirror:         mirrorhandler.New(views, logger),
	})
	s.server = httptest.NewServer(router)
}

func (s *RouterSuite) TearDownTest() {
	s.server.Close()
	s.cancel()
}

func (s *RouterSuite) request(method, path, accessToken string, body any) *http.Response {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		s.Require().NoError(err)
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequest(method, s.server.URL+path, reader)
	s.Require().NoError(err)
	if accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+accessToken)
	}
	resp, err := s.server.Client().Do(req)
	s.Require().NoError(err)
	return resp
}

func (s *RouterSuite) decode(resp *http.Response) map[string]any {
	defer resp.Body.Close()
	var out map[string]any
	s.Require().NoError(json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func (s *RouterSuite) registerInstitution() {
	resp := s.request(http.MethodPost, "/institutions", s.accessToken, map[string]string{
		"identity":            issuer,
		"name":                "Test University",
		"registration_number": "REG-1",
	})
	defer resp.Body.Close()
	s.Require().Equal(http.StatusCreated, resp.StatusCode)
}

func (s *RouterSuite) issueCertificate() (certID string, fp string) {
	resp := s.request(http.MethodPost, "/certificates", s.accessToken, map[string]any{
		"recipient":        recipient,
		"certificate_type": "degree",
		"course_name":      "Computer Science",
		"grade":            "A",
		"issued_at":        "2026-01-02T03:04:05Z",
	})
	s.Require().Equal(http.StatusCreated, resp.StatusCode)
	body := s.decode(resp)
	return jsonNumber(body["id"]), body["fingerprint"].(string)
}

func (s *RouterSuite) TestWriteEndpointsRequireAuth() {
	for path, token := range map[string]string{
		"missing token": "",
		"garbage token": "not-a-token",
	} {
		s.Run(path, func() {
			resp := s.request(http.MethodPost, "/certificates", token, map[string]string{})
			defer resp.Body.Close()
			s.Equal(http.StatusUnauthorized, resp.StatusCode)
		})
	}
}

func (s *RouterSuite) TestCertificateLifecycle() {
	s.registerInstitution()
	certID, fp := s.issueCertificate()
	s.Equal("1", certID)

	s.Run("re-issuing the same document conflicts", func() {
		resp := s.request(http.MethodPost, "/certificates", s.accessToken, map[string]any{
			"recipient":        recipient,
			"certificate_type": "degree",
			"course_name":      "Computer Science",
			"grade":            "A",
			"issued_at":        "2026-01-02T03:04:05Z",
		})
		s.Require().Equal(http.StatusConflict, resp.StatusCode)
		s.Equal(string(dErrors.CodeDuplicateContent), s.decode(resp)["error"])
	})

	s.Run("verify by id", func() {
		resp := s.request(http.MethodGet, "/verify/"+certID, "", nil)
		s.Require().Equal(http.StatusOK, resp.StatusCode)
		s.Equal(true, s.decode(resp)["valid"])
	})

	s.Run("verify by fingerprint", func() {
		resp := s.request(http.MethodGet, "/verify/fingerprint/"+fp, "", nil)
		defer resp.Body.Close()
		s.Equal(http.StatusOK, resp.StatusCode)
	})

	s.Run("record verification and read history", func() {
		resp := s.request(http.MethodPost, "/certificates/"+certID+"/verifications", s.accessToken, nil)
		s.Require().Equal(http.StatusCreated, resp.StatusCode)
		resp.Body.Close()

		resp = s.request(http.MethodGet, "/certificates/"+certID+"/verifications", "", nil)
		s.Require().Equal(http.StatusOK, resp.StatusCode)
		body := s.decode(resp)
		s.Equal("1", jsonNumber(body["total"]))
		s.Len(body["records"], 1)
	})

	s.Run("detail aggregates issuer and audit count", func() {
		resp := s.request(http.MethodGet, "/certificates/"+certID+"/detail", "", nil)
		s.Require().Equal(http.StatusOK, resp.StatusCode)
		body := s.decode(resp)
		s.Equal("1", jsonNumber(body["verifications"]))
		s.NotNil(body["institution"])
	})

	s.Run("revoke", func() {
		resp := s.request(http.MethodPost, "/certificates/"+certID+"/revoke", s.accessToken, nil)
		defer resp.Body.Close()
		s.Require().Equal(http.StatusNoContent, resp.StatusCode)
	})

	s.Run("verifying a revoked certificate is gone, not missing", func() {
		resp := s.request(http.MethodGet, "/verify/"+certID, "", nil)
		s.Require().Equal(http.StatusGone, resp.StatusCode)
		s.Equal(string(dErrors.CodeInvalidCertificate), s.decode(resp)["error"])
	})

	s.Run("revoking twice conflicts", func() {
		resp := s.request(http.MethodPost, "/certificates/"+certID+"/revoke", s.accessToken, nil)
		s.Require().Equal(http.StatusConflict, resp.StatusCode)
		s.Equal(string(dErrors.CodeAlreadyRevoked), s.decode(resp)["error"])
	})

	s.Run("unknown certificate", func() {
		resp := s.request(http.MethodGet, "/certificates/999", "", nil)
		defer resp.Body.Close()
		s.Equal(http.StatusNotFound, resp.StatusCode)
	})
}

func (s *RouterSuite) TestStoredCertificateHashesToItsFingerprint() {
	s.registerInstitution()
	certID, fp := s.issueCertificate()

	resp := s.request(http.MethodGet, "/certificates/"+certID, "", nil)
	s.Require().Equal(http.StatusOK, resp.StatusCode)
	stored := s.decode(resp)

	s.Run("the pinned issuance timestamp is the stored one", func() {
		s.Equal("2026-01-02T03:04:05Z", stored["issued_at"])
	})

	s.Run("recomputing from the stored fields reproduces the fingerprint", func() {
		institution, err := id.ParseAddress(stored["institution"].(string))
		s.Require().NoError(err)
		holder, err := id.ParseAddress(stored["recipient"].(string))
		s.Require().NoError(err)
		issuedAt, err := time.Parse(time.RFC3339, stored["issued_at"].(string))
		s.Require().NoError(err)

		grade, _ := stored["grade"].(string)
		recomputed := fingerprint.Compute(fingerprint.Payload{
			Institution: institution,
			Recipient:   holder,
			Type:        stored["certificate_type"].(string),
			CourseName:  stored["course_name"].(string),
			Grade:       grade,
			IssuedAt:    issuedAt,
		})
		s.Equal(fp, recomputed.String())
		s.Equal(fp, stored["fingerprint"])
	})
}

func (s *RouterSuite) TestDeactivatedIssuerCannotIssue() {
	s.registerInstitution()

	resp := s.request(http.MethodPost, "/institutions/"+issuer+"/deactivate", s.accessToken, nil)
	s.Require().Equal(http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp = s.request(http.MethodPost, "/certificates", s.accessToken, map[string]any{
		"recipient":        recipient,
		"certificate_type": "degree",
		"course_name":      "Computer Science",
	})
	defer resp.Body.Close()
	s.Equal(http.StatusUnauthorized, resp.StatusCode)
}

func (s *RouterSuite) TestRegistryViews() {
	s.registerInstitution()
	certID, _ := s.issueCertificate()

	// The mirror is updated asynchronously by the event worker.
	s.Require().Eventually(func() bool {
		resp := s.request(http.MethodGet, "/registry/recipients/"+recipient+"/certificates", "", nil)
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return false
		}
		var body map[string]any
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			return false
		}
		return jsonNumber(body["total"]) == "1"
	}, 2*time.Second, 10*time.Millisecond)

	s.Run("listing by status", func() {
		resp := s.request(http.MethodGet, "/registry/certificates?status=valid", "", nil)
		s.Require().Equal(http.StatusOK, resp.StatusCode)
		s.Equal("1", jsonNumber(s.decode(resp)["total"]))
	})

	s.Run("listing requires exactly one filter", func() {
		resp := s.request(http.MethodGet, "/registry/certificates", "", nil)
		defer resp.Body.Close()
		s.Equal(http.StatusBadRequest, resp.StatusCode)

		resp = s.request(http.MethodGet, "/registry/certificates?status=valid&type=degree", "", nil)
		defer resp.Body.Close()
		s.Equal(http.StatusBadRequest, resp.StatusCode)
	})

	s.Run("registry totals", func() {
		resp := s.request(http.MethodGet, "/registry/stats", "", nil)
		s.Require().Equal(http.StatusOK, resp.StatusCode)
		body := s.decode(resp)
		s.Equal("1", jsonNumber(body["issued"]))
		s.Equal("1", jsonNumber(body["valid"]))
	})

	s.Run("per certificate stats", func() {
		resp := s.request(http.MethodGet, "/registry/certificates/"+certID+"/stats", "", nil)
		s.Require().Equal(http.StatusOK, resp.StatusCode)
		s.Equal("0", jsonNumber(s.decode(resp)["verifications"]))
	})
}

func (s *RouterSuite) TestInputValidation() {
	s.registerInstitution()

	s.Run("malformed recipient address", func() {
		resp := s.request(http.MethodPost, "/certificates", s.accessToken, map[string]any{
			"recipient":        "not-an-address",
			"certificate_type": "degree",
			"course_name":      "Computer Science",
		})
		defer resp.Body.Close()
		s.Equal(http.StatusBadRequest, resp.StatusCode)
	})

	s.Run("unknown body field", func() {
		resp := s.request(http.MethodPost, "/certificates", s.accessToken, map[string]any{
			"recipient": recipient,
			"surprise":  true,
		})
		defer resp.Body.Close()
		s.Equal(http.StatusBadRequest, resp.StatusCode)
	})

	s.Run("malformed certificate id in path", func() {
		resp := s.request(http.MethodGet, "/certificates/zero", "", nil)
		defer resp.Body.Close()
		s.Equal(http.StatusBadRequest, resp.StatusCode)
	})
}

func (s *RouterSuite) TestHealthz() {
	resp := s.request(http.MethodGet, "/healthz", "", nil)
	s.Require().Equal(http.StatusOK, resp.StatusCode)
	s.Equal("ok", s.decode(resp)["status"])
}

// jsonNumber renders a decoded JSON number as its integer string so tests can
// compare against "1" without float64 conversions at every call site.
func jsonNumber(value any) string {
	number, ok := value.(float64)
	if !ok {
		return ""
	}
	return strconv.FormatFloat(number, 'f', -1, 64)
}
