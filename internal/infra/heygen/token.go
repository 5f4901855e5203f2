package heygen

import (
	"context"
	"net/http"

	"github.com/cockroachdb/errors"
)

// APIKeyHeader is the header carrying the account API key.
const APIKeyHeader = "x-api-key"

type createTokenData struct {
	Token string `json:"token"`
}

// CreateToken obtains a short-lived session token.
// Reference: POST /v1/streaming.create_token
func (c *Client) CreateToken(ctx context.Context) (string, error) {
	header := http.Header{}
	header.Set(APIKeyHeader, c.apiKey)

	var data createTokenData
	if err := post(ctx, c.httpClient, c.baseURL+"/v1/streaming.create_token", header, nil, &data); err != nil {
		return "", errors.Wrap(err, "failed to create session token")
	}
	if data.Token == "" {
		return "", errors.New("session token missing from response")
	}
	return data.Token, nil
}
