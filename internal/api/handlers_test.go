package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/npezzotti/kite-relay/internal/config"
	"github.com/npezzotti/kite-relay/internal/database"
	"github.com/npezzotti/kite-relay/internal/testutil"
	"github.com/npezzotti/kite-relay/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testChannel = "support_team_1"

func Test_healthCheck(t *testing.T) {
	mockRepo := &database.MockKiteRepository{}
	defer mockRepo.AssertExpectations(t)

	tcases := []struct {
		name    string
		mockErr error
	}{
		{
			name:    "successful health check",
			mockErr: nil,
		},
		{
			name:    "failed health check",
			mockErr: errors.New("db error"),
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			mockRepo.On("Ping").Return(tc.mockErr).Once()
			app := NewKiteApp(http.NewServeMux(), testutil.TestLogger(t), mockRepo, nil, nil, &config.Config{})
			rr := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
			app.healthCheck(rr, req)

			if tc.mockErr != nil {
				assert.Equal(t, http.StatusInternalServerError, rr.Code, "expected status code to be 500")
			} else {
				assert.Equal(t, http.StatusOK, rr.Code, "expected status code to be 200")
				assert.Equal(t, "OK", rr.Body.String(), "expected response body to be 'OK'")
			}
		})
	}
}

func Test_getChannel(t *testing.T) {
	channel := types.Channel{
		Name:         testChannel,
		HostId:       "h1",
		DefaultRoute: types.NewRoute("tg", "h1"),
	}
	host := types.NewMember(channel.HostMemberId(), "Host", channel.DefaultRoute)

	tcases := []struct {
		name       string
		channel    string
		setup      func(m *database.MockKiteRepository)
		wantStatus int
		wantBody   *ChannelResponse
	}{
		{
			name:    "host online",
			channel: testChannel,
			setup: func(m *database.MockKiteRepository) {
				m.On("GetChannel", testChannel).Return(channel, nil)
				m.On("GetMember", channel.HostMemberId()).Return(host, nil)
			},
			wantStatus: http.StatusOK,
			wantBody:   &ChannelResponse{Name: testChannel, Online: true},
		},
		{
			name:    "host offline",
			channel: testChannel,
			setup: func(m *database.MockKiteRepository) {
				m.On("GetChannel", testChannel).Return(channel, nil)
				m.On("GetMember", channel.HostMemberId()).Return(host.WithoutRoute(channel.DefaultRoute), nil)
			},
			wantStatus: http.StatusOK,
			wantBody:   &ChannelResponse{Name: testChannel, Online: false},
		},
		{
			name:    "channel not found",
			channel: testChannel,
			setup: func(m *database.MockKiteRepository) {
				m.On("GetChannel", testChannel).Return(types.Channel{}, database.ErrNotFound)
			},
			wantStatus: http.StatusNotFound,
		},
		{
			name:       "invalid channel name",
			channel:    "bad",
			setup:      func(m *database.MockKiteRepository) {},
			wantStatus: http.StatusBadRequest,
		},
		{
			name:    "storage failure",
			channel: testChannel,
			setup: func(m *database.MockKiteRepository) {
				m.On("GetChannel", testChannel).Return(types.Channel{}, errors.New("connection refused"))
			},
			wantStatus: http.StatusInternalServerError,
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			mockRepo := &database.MockKiteRepository{}
			tc.setup(mockRepo)
			defer mockRepo.AssertExpectations(t)

			app := NewKiteApp(http.NewServeMux(), testutil.TestLogger(t), mockRepo, nil, nil, &config.Config{})
			rr := httptest.NewRecorder()
			app.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/channels/"+tc.channel, nil))

			assert.Equal(t, tc.wantStatus, rr.Code)
			assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))
			if tc.wantBody != nil {
				var got ChannelResponse
				require.NoError(t, json.NewDecoder(rr.Body).Decode(&got))
				assert.Equal(t, *tc.wantBody, got)
			}
		})
	}
}
