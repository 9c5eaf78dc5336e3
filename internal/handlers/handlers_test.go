package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/joshua-takyi/platerank/internal/helpers"
	"github.com/joshua-takyi/platerank/internal/models"
	"github.com/joshua-takyi/platerank/internal/services"
	"github.com/joshua-takyi/platerank/internal/storetest"
)

const (
	testUserHeader  = "X-Test-User"
	testAdminHeader = "X-Test-Admin"
)

var fixedNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func init() {
	gin.SetMode(gin.TestMode)
}

type testServer struct {
	store  *storetest.Store
	router *gin.Engine
}

// fakeAuth stands in for AuthMiddleware: the caller is taken from a header.
func fakeAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if raw := c.GetHeader(testUserHeader); raw != "" {
			role := models.RoleUser
			if c.GetHeader(testAdminHeader) == "true" {
				role = models.RoleAdmin
			}
			c.Set(helpers.UserContextKey, &helpers.EnhancedClaims{
				UserID: uuid.MustParse(raw),
				Role:   role,
			})
		}
		c.Next()
	}
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	store := storetest.New()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	now := func() time.Time { return fixedNow }
	runner := services.NewTxRunner(store, services.TxOptions{MaxAttempts: 3, Timeout: time.Second, InitialBackoff: time.Millisecond}, logger)

	reviews := services.NewReviewService(store, store, runner, nil, logger, now)
	reactions := services.NewReactionService(store, nil, logger, 3)
	ranking := services.NewRankingService(store, store, nil, logger, now)

	r := gin.New()
	r.Use(fakeAuth())
	r.GET("/health", HealthHandler("platerank", map[string]HealthCheck{
		"mongodb": func(context.Context) error { return nil },
	}))
	r.GET("/establishments/ranking", RankingHandler(ranking))
	r.GET("/establishments/:id/reviews", ListEstablishmentReviewsHandler(reviews))
	r.POST("/establishments/:id/reviews", CreateReviewHandler(reviews))
	r.GET("/reviews/:id", GetReviewHandler(reviews))
	r.PATCH("/reviews/:id", UpdateReviewHandler(reviews))
	r.DELETE("/reviews/:id", DeleteReviewHandler(reviews))
	r.POST("/reviews/:id/like", LikeReviewHandler(reactions))
	r.POST("/reviews/:id/dislike", DislikeReviewHandler(reactions))

	return &testServer{store: store, router: r}
}

func (s *testServer) approvedEstablishment() primitive.ObjectID {
	return s.store.AddEstablishment(models.Establishment{Name: "Chop Bar", IsApproved: true, CreatedAt: fixedNow})
}

func (s *testServer) do(t *testing.T, method, path string, user *uuid.UUID, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if user != nil {
		req.Header.Set(testUserHeader, user.String())
	}
	rr := httptest.NewRecorder()
	s.router.ServeHTTP(rr, req)
	return rr
}

type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	Error   *models.ApiError
}

func decode(t *testing.T, rr *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &env), rr.Body.String())
	return env
}

func decodeReview(t *testing.T, rr *httptest.ResponseRecorder) models.Review {
	t.Helper()
	env := decode(t, rr)
	require.True(t, env.Success, rr.Body.String())
	var review models.Review
	require.NoError(t, json.Unmarshal(env.Data, &review))
	return review
}

func TestCreateReviewHandler(t *testing.T) {
	s := newTestServer(t)
	estID := s.approvedEstablishment()
	author := uuid.New()

	rr := s.do(t, http.MethodPost, "/establishments/"+estID.Hex()+"/reviews", &author, gin.H{
		"rating":  4,
		"comment": "  solid jollof  ",
	})

	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	review := decodeReview(t, rr)
	assert.Equal(t, 4, review.Rating)
	assert.Equal(t, "solid jollof", review.Comment)
	assert.Equal(t, author, review.AuthorID)

	est, _ := s.store.Establishment(estID)
	assert.Equal(t, 4.0, est.MeanRating)
	assert.Equal(t, 1, est.ReviewCount)
}

func TestCreateReviewHandler_Errors(t *testing.T) {
	s := newTestServer(t)
	estID := s.approvedEstablishment()
	pendingID := s.store.AddEstablishment(models.Establishment{Name: "Pending"})
	author := uuid.New()

	require.Equal(t, http.StatusCreated,
		s.do(t, http.MethodPost, "/establishments/"+estID.Hex()+"/reviews", &author, gin.H{"rating": 5}).Code)

	tests := []struct {
		name       string
		path       string
		user       *uuid.UUID
		body       any
		wantStatus int
		wantCode   string
	}{
		{"unauthenticated", "/establishments/" + estID.Hex() + "/reviews", nil, gin.H{"rating": 3}, http.StatusUnauthorized, "UNAUTHORIZED"},
		{"bad establishment id", "/establishments/nope/reviews", &author, gin.H{"rating": 3}, http.StatusBadRequest, "INVALID_INPUT"},
		{"rating out of range", "/establishments/" + estID.Hex() + "/reviews", ptr(uuid.New()), gin.H{"rating": 6}, http.StatusBadRequest, "INVALID_INPUT"},
		{"missing rating", "/establishments/" + estID.Hex() + "/reviews", ptr(uuid.New()), gin.H{"comment": "hi"}, http.StatusBadRequest, "INVALID_INPUT"},
		{"bad menu item id", "/establishments/" + estID.Hex() + "/reviews", ptr(uuid.New()), gin.H{"rating": 3, "menu_item_id": "xyz"}, http.StatusBadRequest, "INVALID_INPUT"},
		{"unknown establishment", "/establishments/" + primitive.NewObjectID().Hex() + "/reviews", ptr(uuid.New()), gin.H{"rating": 3}, http.StatusNotFound, "ESTABLISHMENT_NOT_FOUND"},
		{"not approved", "/establishments/" + pendingID.Hex() + "/reviews", ptr(uuid.New()), gin.H{"rating": 3}, http.StatusUnprocessableEntity, "ESTABLISHMENT_NOT_APPROVED"},
		{"duplicate", "/establishments/" + estID.Hex() + "/reviews", &author, gin.H{"rating": 2}, http.StatusConflict, "DUPLICATE_REVIEW"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := s.do(t, http.MethodPost, tt.path, tt.user, tt.body)
			assert.Equal(t, tt.wantStatus, rr.Code, rr.Body.String())
			env := decode(t, rr)
			assert.False(t, env.Success)
			require.NotNil(t, env.Error)
			assert.Equal(t, tt.wantCode, env.Error.Code)
		})
	}
}

func TestUpdateAndDeleteReviewHandlers(t *testing.T) {
	s := newTestServer(t)
	estID := s.approvedEstablishment()
	author, other := uuid.New(), uuid.New()

	created := decodeReview(t, s.do(t, http.MethodPost, "/establishments/"+estID.Hex()+"/reviews", &author, gin.H{"rating": 2}))
	path := "/reviews/" + created.ID.Hex()

	rr := s.do(t, http.MethodPatch, path, &other, gin.H{"rating": 5})
	assert.Equal(t, http.StatusForbidden, rr.Code)

	rr = s.do(t, http.MethodPatch, path, &author, gin.H{"rating": 5, "comment": "better now"})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	updated := decodeReview(t, rr)
	assert.Equal(t, 5, updated.Rating)
	assert.Equal(t, "better now", updated.Comment)

	est, _ := s.store.Establishment(estID)
	assert.Equal(t, 5.0, est.MeanRating)

	assert.Equal(t, http.StatusForbidden, s.do(t, http.MethodDelete, path, &other, nil).Code)
	assert.Equal(t, http.StatusOK, s.do(t, http.MethodDelete, path, &author, nil).Code)
	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodGet, path, nil, nil).Code)

	est, _ = s.store.Establishment(estID)
	assert.Equal(t, 0, est.ReviewCount)
	assert.Equal(t, 0.0, est.MeanRating)
}

func TestDeleteReviewHandler_Admin(t *testing.T) {
	s := newTestServer(t)
	estID := s.approvedEstablishment()
	author, admin := uuid.New(), uuid.New()

	created := decodeReview(t, s.do(t, http.MethodPost, "/establishments/"+estID.Hex()+"/reviews", &author, gin.H{"rating": 1}))

	req := httptest.NewRequest(http.MethodDelete, "/reviews/"+created.ID.Hex(), nil)
	req.Header.Set(testUserHeader, admin.String())
	req.Header.Set(testAdminHeader, "true")
	rr := httptest.NewRecorder()
	s.router.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, 0, s.store.ReviewCount(estID))
}

func TestListEstablishmentReviewsHandler(t *testing.T) {
	s := newTestServer(t)
	estID := s.approvedEstablishment()
	for _, rating := range []int{3, 5, 1} {
		rr := s.do(t, http.MethodPost, "/establishments/"+estID.Hex()+"/reviews", ptr(uuid.New()), gin.H{"rating": rating})
		require.Equal(t, http.StatusCreated, rr.Code)
	}

	rr := s.do(t, http.MethodGet, "/establishments/"+estID.Hex()+"/reviews?sort_by=rating&sort_order=desc&limit=2", nil, nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var page services.ReviewPage
	require.NoError(t, json.Unmarshal(decode(t, rr).Data, &page))
	require.Len(t, page.Reviews, 2)
	assert.Equal(t, 5, page.Reviews[0].Rating)
	assert.Equal(t, 3, page.Reviews[1].Rating)
	assert.Equal(t, models.Pagination{Page: 1, Limit: 2, Total: 3, TotalPages: 2}, page.Pagination)

	rr = s.do(t, http.MethodGet, "/establishments/"+estID.Hex()+"/reviews?sort_by=author", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = s.do(t, http.MethodGet, "/establishments/"+estID.Hex()+"/reviews?limit=500", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestReactionHandlers(t *testing.T) {
	s := newTestServer(t)
	estID := s.approvedEstablishment()
	author, fan := uuid.New(), uuid.New()
	created := decodeReview(t, s.do(t, http.MethodPost, "/establishments/"+estID.Hex()+"/reviews", &author, gin.H{"rating": 4}))
	path := "/reviews/" + created.ID.Hex()

	rr := s.do(t, http.MethodPost, path+"/like", &fan, nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var res services.ReactionResult
	require.NoError(t, json.Unmarshal(decode(t, rr).Data, &res))
	assert.Equal(t, models.ReactionLiked, res.State)
	assert.Equal(t, 1, res.Review.LikesCount)

	rr = s.do(t, http.MethodPost, path+"/dislike", &fan, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	require.NoError(t, json.Unmarshal(decode(t, rr).Data, &res))
	assert.Equal(t, models.ReactionDisliked, res.State)
	assert.Equal(t, 0, res.Review.LikesCount)
	assert.Equal(t, 1, res.Review.DislikesCount)

	rr = s.do(t, http.MethodPost, path+"/like", &author, nil)
	assert.Equal(t, http.StatusForbidden, rr.Code)
	assert.Equal(t, "SELF_REACTION_FORBIDDEN", decode(t, rr).Error.Code)

	rr = s.do(t, http.MethodPost, "/reviews/"+primitive.NewObjectID().Hex()+"/like", &fan, nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)

	assert.Equal(t, http.StatusUnauthorized, s.do(t, http.MethodPost, path+"/like", nil, nil).Code)
}

func TestRankingHandler(t *testing.T) {
	s := newTestServer(t)
	top := s.approvedEstablishment()
	low := s.approvedEstablishment()
	s.store.AddEstablishment(models.Establishment{Name: "No reviews", IsApproved: true})

	require.Equal(t, http.StatusCreated, s.do(t, http.MethodPost, "/establishments/"+top.Hex()+"/reviews", ptr(uuid.New()), gin.H{"rating": 5}).Code)
	require.Equal(t, http.StatusCreated, s.do(t, http.MethodPost, "/establishments/"+low.Hex()+"/reviews", ptr(uuid.New()), gin.H{"rating": 2}).Code)

	rr := s.do(t, http.MethodGet, "/establishments/ranking", nil, nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var page services.RankingPage
	require.NoError(t, json.Unmarshal(decode(t, rr).Data, &page))
	require.Len(t, page.Ranking, 2)
	assert.Equal(t, top, page.Ranking[0].ID)
	assert.Equal(t, low, page.Ranking[1].ID)
	assert.Equal(t, 2, page.Pagination.Total)

	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodGet, "/establishments/ranking?page=-1", nil, nil).Code)
	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodGet, "/establishments/ranking?category_id=bad", nil, nil).Code)
}

func TestHealthHandler(t *testing.T) {
	r := gin.New()
	r.GET("/health", HealthHandler("platerank", map[string]HealthCheck{
		"mongodb": func(context.Context) error { return nil },
		"redis":   func(context.Context) error { return errors.New("connection refused") },
	}))

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.Contains(t, rr.Body.String(), `"status":"DEGRADED"`)
	assert.Contains(t, rr.Body.String(), "connection refused")
}

func ptr[T any](v T) *T { return &v }
