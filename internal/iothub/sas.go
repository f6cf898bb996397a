package iothub

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net/url"
	"strconv"
	"time"
)

// SASToken signs a device shared access token for host/devices/deviceID
// with the base64 encoded device key, valid until expiry.
func SASToken(host, deviceID, key string, expiry time.Time) (string, error) {
	secret, err := base64.StdEncoding.DecodeString(key)
	if err != nil {
		return "", fmt.Errorf("decode shared access key: %w", err)
	}

	resource := url.QueryEscape(host + "/devices/" + deviceID)
	se := strconv.FormatInt(expiry.Unix(), 10)

	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(resource + "\n" + se))
	sig := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	return fmt.Sprintf("SharedAccessSignature sr=%s&sig=%s&se=%s", resource, url.QueryEscape(sig), se), nil
}
