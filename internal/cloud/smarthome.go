package cloud

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/stapelberg/midea-lan/internal/crypto"
)

// SmartHomeHMACKey is the fixed HMAC key used to sign SmartHome cloud
// requests.
const SmartHomeHMACKey = "meicloud"

// SmartHomeCredentials is a region-keyed credential table, analogous
// to NetHomePlusCredentials; empty by default, populated by callers.
var SmartHomeCredentials = map[string]RegionCredentials{
	DefaultCloudRegion: {},
}

// SmartHomeCloud implements the HMAC-signed JSON envelope the
// SmartHome backend uses. get_token may be unavailable for some
// regions on this backend; callers should fall back to
// NetHomePlusCloud in that case (spec.md §4.5).
type SmartHomeCloud struct {
	region   string
	account  string
	password string
	appID    string
	baseURL  string

	httpClient  *http.Client
	mu          sync.Mutex
	accessToken string
}

// NewSmartHomeCloud constructs a client for region, optionally
// overriding the table's default account/password.
func NewSmartHomeCloud(region, account, password string) (*SmartHomeCloud, error) {
	if region == "" {
		region = DefaultCloudRegion
	}
	creds, ok := SmartHomeCredentials[region]
	if !ok {
		return nil, &ErrInvalidRegion{Region: region}
	}
	if (account == "") != (password == "") {
		return nil, ErrInvalidCredentials
	}
	if account != "" {
		creds.Account, creds.Password = account, password
	}

	return &SmartHomeCloud{
		region:     region,
		account:    creds.Account,
		password:   creds.Password,
		appID:      creds.AppID,
		baseURL:    "https://mp-prod.appsmb.com",
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}, nil
}

// Login authenticates and stores the access token used on subsequent
// calls.
func (c *SmartHomeCloud) Login() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	resp, err := c.apiRequest("/v1/user/login", map[string]any{
		"loginAccount": c.account,
		"password":     hex.EncodeToString(crypto.SHA256Sum([]byte(c.password))),
	})
	if err != nil {
		return err
	}
	token, _ := resp["accessToken"].(string)
	if token == "" {
		return &CloudError{Reason: "login response missing accessToken"}
	}
	c.accessToken = token
	return nil
}

// GetToken retrieves a (token, key) pair, where supported by the
// region.
func (c *SmartHomeCloud) GetToken(udpIDHex string) (string, string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	resp, err := c.apiRequest("/v1/iot/secure/getToken", map[string]any{
		"udpid": udpIDHex,
	})
	if err != nil {
		return "", "", err
	}
	token, _ := resp["token"].(string)
	key, _ := resp["key"].(string)
	if token == "" || key == "" {
		return "", "", &CloudError{Reason: "get_token unavailable for this region"}
	}
	return token, key, nil
}

func (c *SmartHomeCloud) apiRequest(endpoint string, body map[string]any) (map[string]any, error) {
	stamp := nowStamp()
	random := stamp
	form := map[string]any{
		"stamp":       stamp,
		"random":      random,
		"accessToken": c.accessToken,
	}
	for k, v := range body {
		form[k] = v
	}

	canonical := sortedFormBody(form)
	sign := hex.EncodeToString(crypto.HMACSHA256([]byte(SmartHomeHMACKey), []byte(canonical)))
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
