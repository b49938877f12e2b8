package middleware

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/emberhost/panel/internal/models"
	"github.com/gin-gonic/gin"
)

type mockNodeFinder struct {
	node *models.Node
}

func (m *mockNodeFinder) FindByTokenID(tokenID string) (*models.Node, error) {
	if m.node != nil && m.node.TokenID == tokenID {
		return m.node, nil
	}
	return nil, errors.New("record not found")
}

func daemonTestRouter(finder NodeFinder) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(DaemonAuthMiddleware(finder))
	router.POST("/callback", func(c *gin.Context) {
		node := NodeFromContext(c)
		if node == nil {
			c.Status(http.StatusInternalServerError)
			return
		}
		c.JSON(http.StatusOK, gin.H{"node_id": node.ID})
	})
	return router
}

func performDaemonRequest(router *gin.Engine, authorization string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/callback", nil)
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestDaemonAuthAcceptsValidCredential(t *testing.T) {
	node := &models.Node{ID: 7, TokenID: "tid1", Token: "supersecret"}
	router := daemonTestRouter(&mockNodeFinder{node: node})

	w := performDaemonRequest(router, "Bearer tid1.supersecret")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
}

func TestDaemonAuthRejectsMissingHeader(t *testing.T) {
	router := daemonTestRouter(&mockNodeFinder{})

	w := performDaemonRequest(router, "")
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}

func TestDaemonAuthRejectsMalformedCredential(t *testing.T) {
	router := daemonTestRouter(&mockNodeFinder{})

	for _, header := range []string{"Bearer nodot", "Bearer .secret", "Bearer tid.", "Token tid1.secret"} {
		w := performDaemonRequest(router, header)
		if w.Code != http.StatusBadRequest && w.Code != http.StatusUnauthorized {
			t.Errorf("header %q: expected 400 or 401, got %d", header, w.Code)
		}
	}
}

func TestDaemonAuthWrongTokenAndUnknownNodeAreIndistinguishable(t *testing.T) {
	node := &models.Node{ID: 7, TokenID: "tid1", Token: "supersecret"}
	router := daemonTestRouter(&mockNodeFinder{node: node})

	wrongToken := performDaemonRequest(router, "Bearer tid1.wrong")
	unknownNode := performDaemonRequest(router, "Bearer nope.supersecret")

	if wrongToken.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for wrong token, got %d", wrongToken.Code)
	}
	if unknownNode.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for unknown node, got %d", unknownNode.Code)
	}
	if wrongToken.Body.String() != unknownNode.Body.String() {
		t.Error("responses must not reveal whether the node exists")
	}
}

func TestDaemonAuthPartialTokenMatchIsRejected(t *testing.T) {
	node := &models.Node{ID: 7, TokenID: "tid1", Token: "supersecret"}
	router := daemonTestRouter(&mockNodeFinder{node: node})

	w := performDaemonRequest(router, "Bearer tid1.supersecre")
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", w.Code)
	}
}
