package training

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/feedloop-ai/newsbrief/internal/models"
	"github.com/feedloop-ai/newsbrief/internal/retrain"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_Train(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "POST", r.Method)
		assert.Equal(t, "/train", r.URL.Path)

		var req map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "classifier", req["family"])
		assert.Len(t, req["examples"], 2)

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"run_id":  "run-42",
			"metrics": map[string]float64{"test_accuracy": 0.88},
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, models.FamilyClassifier, logrus.New())

	outcome, err := client.Train(context.Background(), []retrain.Example{
		{ArticleID: "a1", Text: "First article.", Label: "ai"},
		{ArticleID: "a2", Text: "Second article.", Label: "science"},
	})
	require.NoError(t, err)
	assert.Equal(t, "run-42", outcome.RunID)
	assert.InDelta(t, 0.88, outcome.Metrics["test_accuracy"], 1e-9)
}

func TestClient_Train_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("out of GPU memory"))
	}))
	defer server.Close()

	client := NewClient(server.URL, models.FamilySummarizer, logrus.New())

	_, err := client.Train(context.Background(), []retrain.Example{{ArticleID: "a1", Text: "Body."}})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "500")
}
