// Package cloud implements the two vendor cloud backends used to
// retrieve the (token, key) pair a V3 device needs for its local
// session handshake: NetHome+ and SmartHome.
//
// Grounded on original_source/msmart/cloud.py (not present in the
// retrieval pack; reconstructed from spec.md §4.5 together with the
// exact API call sequence and payload shapes asserted by
// original_source/msmart/tests/test_cloud.py) and on the teacher's
// use of a single shared, mutex-serialized resource
// (_examples/stapelberg-hmgo/internal/hm/thermal/thermal.go's
// latestMu guarding shared device state) generalized here to a shared
// HTTP session.
package cloud

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/stapelberg/midea-lan/internal/crypto"
)

const DefaultCloudRegion = "US"

// RegionCredentials is the account/password/appID triple a cloud
// backend uses for a given region.
type RegionCredentials struct {
	Account  string
	Password string
	AppID    string
}

// NetHomePlusCredentials is a region-keyed credential table. Shipping
// this library does not bundle the production vendor app keys; callers
// populate this table (or pass account/password directly to the
// constructor) with credentials appropriate to their installation.
var NetHomePlusCredentials = map[string]RegionCredentials{
	DefaultCloudRegion: {},
}

// ErrInvalidRegion is returned when a caller requests a region that
// has no entry in the credentials table.
type ErrInvalidRegion struct{ Region string }

func (e *ErrInvalidRegion) Error() string { return fmt.Sprintf("cloud: invalid region %q", e.Region) }

// ErrInvalidCredentials is returned when exactly one of account/
// password is supplied; the cloud client requires both or neither
// (falling back to the region's default credentials).
var ErrInvalidCredentials = fmt.Errorf("cloud: account and password must both be supplied, or neither")

// ApiError reports a cloud response with a non-zero error code — a
// well-formed rejection, as opposed to a transport failure.
type ApiError struct {
	Code int
	Msg  string
}

func (e *ApiError) Error() string { return fmt.Sprintf("cloud: api error %d: %s", e.Code, e.Msg) }

// CloudError reports a transport-level failure reaching the cloud:
// DNS, connect, TLS, or a non-2xx/malformed HTTP response.
type CloudError struct {
	Reason string
}

func (e *CloudError) Error() string { return "cloud: " + e.Reason }

// Client is the interface both cloud backends implement.
type Client interface {
	Login() error
	GetToken(udpIDHex string) (token, key string, err error)
}

// NetHomePlusCloud implements the stable NetHome+ login flow.
type NetHomePlusCloud struct {
	region   string
	account  string
	password string
	appID    string
	baseURL  string

	httpClient *http.Client
	mu         sync.Mutex
	loginID    string
	sessionID  string
}

// NewNetHomePlusCloud constructs a client for region, optionally
// overriding the table's default account/password. Both must be
// supplied together or neither.
func NewNetHomePlusCloud(region string, account, password string) (*NetHomePlusCloud, error) {
	if region == "" {
		region = DefaultCloudRegion
	}
	creds, ok := NetHomePlusCredentials[region]
	if !ok {
		return nil, &ErrInvalidRegion{Region: region}
	}
	if (account == "") != (password == "") {
		return nil, ErrInvalidCredentials
	}
	if account != "" {
		creds.Account, creds.Password = account, password
	}

	return &NetHomePlusCloud{
		region:     region,
		account:    creds.Account,
		password:   creds.Password,
		appID:      creds.AppID,
		baseURL:    "https://mapp.appsmb.com",
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}, nil
}

// Login performs the two-step NetHome+ login: fetch the login-id for
// the account, then authenticate with a password hashed against it.
func (c *NetHomePlusCloud) Login() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	resp, err := c.apiRequest("/v1/user/login/id/get", map[string]any{
		"loginAccount": c.account,
	})
	if err != nil {
		return err
	}
	loginID, _ := resp["loginId"].(string)
	if loginID == "" {
		return &CloudError{Reason: "login/id/get response missing loginId"}
	}
	c.loginID = loginID

	hashedPassword := hex.EncodeToString(crypto.SHA256Sum([]byte(loginID + hex.EncodeToString(crypto.SHA256Sum([]byte(c.password))))))
	resp, err = c.apiRequest("/v1/user/login", map[string]any{
		"loginAccount": c.account,
		"password":     hashedPassword,
	})
	if err != nil {
		return err
	}
	sessionID, _ := resp["sessionId"].(string)
	if sessionID == "" {
		return &CloudError{Reason: "login response missing sessionId"}
	}
	c.sessionID = sessionID
	return nil
}

// GetToken retrieves the (token, key) pair for the device identified
// by its UDP-ID hex string.
func (c *NetHomePlusCloud) GetToken(udpIDHex string) (string, string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	resp, err := c.apiRequest("/v1/iot/secure/getToken", map[string]any{
		"udpid": udpIDHex,
	})
	if err != nil {
		return "", "", err
	}

	list, _ := resp["tokenlist"].([]any)
	for _, entry := range list {
		m, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		if id, _ := m["udpId"].(string); strings.EqualFold(id, udpIDHex) {
			token, _ := m["token"].(string)
			key, _ := m["key"].(string)
			return token, key, nil
		}
	}
	return "", "", &CloudError{Reason: fmt.Sprintf("no token entry for udpid %s", udpIDHex)}
}

// apiRequest signs and sends a request to endpoint, returning the
// decoded "result" envelope member on success.
func (c *NetHomePlusCloud) apiRequest(endpoint string, body map[string]any) (map[string]any, error) {
	stamp := nowStamp()
	form := map[string]any{
		"appId":       c.appID,
		"clientType":  1,
		"format":      2,
		"language":    "en_US",
		"src":         c.appID,
		"stamp":       stamp,
		"sessionId":   c.sessionID,
	}
	for k, v := range body {
		form[k] = v
	}

	sorted := sortedFormBody(form)
	sign := hex.EncodeToString(crypto.SHA256Sum([]byte(endpoint + sorted + crypto.NetHomePlusSignKey)))
	form["sign"] = sign

	encoded, err := json.Marshal(form)
	if err != nil {
		return nil, &CloudError{Reason: fmt.Sprintf("marshaling request: %v", err)}
	}

	req, err := http.NewRequest(http.MethodPost, c.baseURL+endpoint, bytes.NewReader(encoded))
	if err != nil {
		return nil, &CloudError{Reason: fmt.Sprintf("building request: %v", err)}
	}
	req.Header.Set("Content-Type", "application/json")

	httpResp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &CloudError{Reason: fmt.Sprintf("request failed: %v", err)}
	}
	defer httpResp.Body.Close()

	raw, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, &CloudError{Reason: fmt.Sprintf("reading response: %v", err)}
	}

	var envelope struct {
		ErrorCode string         `json:"errorCode"`
		Msg       string         `json:"msg"`
		Result    map[string]any `json:"result"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, &CloudError{Reason: fmt.Sprintf("decoding response: %v", err)}
	}
	if envelope.ErrorCode != "" && envelope.ErrorCode != "0" {
		return nil, &ApiError{Code: atoiSafe(envelope.ErrorCode), Msg: envelope.Msg}
	}
	return envelope.Result, nil
}

func atoiSafe(s string) int {
	n := 0
	for _, r := range s {
		if r < '0' || r > '9' {
			return n
		}
		n = n*10 + int(r-'0')
	}
	return n
}

func sortedFormBody(form map[string]any) string {
	keys := make([]string, 0, len(form))
	for k := range form {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, "%s=%v&", k, form[k])
	}
	s := b.String()
	return strings.TrimSuffix(s, "&")
}

func nowStamp() string {
	return time.Now().UTC().Format("20060102150405")
}
