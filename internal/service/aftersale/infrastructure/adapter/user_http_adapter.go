package adapter

import (
	"context"
	"errors"
	"net/http"
	"net/url"

	"aftersale/internal/pkg/httpclient"
	"aftersale/internal/service/aftersale/domain/port"
)

const (
	UserService    = "user-service"
	userLookupPath = "/api/v1/users/lookup"
)

// UserHTTPAdapter 实现了 port.UserDirectory 接口
type UserHTTPAdapter struct {
	client *httpclient.Client
}

func NewUserHTTPAdapter(client *httpclient.Client) *UserHTTPAdapter {
	return &UserHTTPAdapter{client: client}
}

func (a *UserHTTPAdapter) FindByPhone(ctx context.Context, phone string) (string, error) {
	params := url.Values{}
	params.Set("phone", phone)
	var resp struct {
		UserID string `json:"userId"`
	}
	err := a.client.GetJSON(ctx, UserService, userLookupPath, params, &resp)
	if err != nil {
		var se *httpclient.StatusError
		if errors.As(err, &se) && se.StatusCode == http.StatusNotFound {
			return "", port.ErrUserNotFound
		}
		return "", err
	}
	if resp.UserID == "" {
		return "", port.ErrUserNotFound
	}
	return resp.UserID, nil
}
