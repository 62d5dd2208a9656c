package postback

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowforge/automation/pkg/model"
	"github.com/flowforge/automation/pkg/queue"
)

func postbackMessage(target string) *queue.Message {
	return &queue.Message{
		JobID:     "job-1",
		JobType:   model.JobPostback,
		CompanyID: 4,
		Payload: model.JSONB{
			"url": target,
			"post": map[string]interface{}{
				"email":      "ada@example.com",
				"score":      float64(42),
				"interests":  []interface{}{"a", "b"},
				"first_name": nil,
			},
		},
	}
}

func TestHandlePostsFormBody(t *testing.T) {
	var got url.Values
	var contentType string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		contentType = r.Header.Get("Content-Type")
		require.NoError(t, r.ParseForm())
		got = r.PostForm
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	d := NewDeliverer(server.Client(), time.Second, nil)
	require.NoError(t, d.Handle(context.Background(), postbackMessage(server.URL+"/hook")))

	assert.Equal(t, "application/x-www-form-urlencoded", contentType)
	assert.Equal(t, "ada@example.com", got.Get("email"))
	assert.Equal(t, "42", got.Get("score"))
	assert.Equal(t, []string{"a", "b"}, got["interests[]"])
	assert.Equal(t, "", got.Get("first_name"))
}

func TestHandleServerErrorIsRetried(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	d := NewDeliverer(server.Client(), time.Second, nil)
	err := d.Handle(context.Background(), postbackMessage(server.URL))
	require.Error(t, err)
	assert.False(t, errors.Is(err, queue.ErrPermanent))
}

func TestHandleClientErrorIsDropped(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	d := NewDeliverer(server.Client(), time.Second, nil)
	assert.NoError(t, d.Handle(context.Background(), postbackMessage(server.URL)))
}

func TestHandleNetworkErrorIsRetried(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	target := server.URL
	server.Close()

	d := NewDeliverer(nil, time.Second, nil)
	err := d.Handle(context.Background(), postbackMessage(target))
	require.Error(t, err)
	assert.False(t, errors.Is(err, queue.ErrPermanent))
}

func TestHandleInvalidURLIsPermanent(t *testing.T) {
	d := NewDeliverer(nil, time.Second, nil)
	for _, target := range []string{"", "ftp://example.com/x", "not a url"} {
		err := d.Handle(context.Background(), postbackMessage(target))
		assert.ErrorIs(t, err, queue.ErrPermanent, target)
	}
}

func TestHandleIgnoresOtherJobs(t *testing.T) {
	d := NewDeliverer(nil, time.Second, nil)
	msg := postbackMessage("")
	msg.JobType = model.JobScheduleWorkflow
	assert.NoError(t, d.Handle(context.Background(), msg))
}
