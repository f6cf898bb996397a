package iothub

import (
	"net/url"
	"strconv"
	"strings"
)

// APIVersion is the IoT Hub MQTT API revision announced in the username.
const APIVersion = "2021-04-12"

const (
	twinResponseFilter = "$iothub/twin/res/#"
	twinResponsePrefix = "$iothub/twin/res/"
	twinPatchPrefix    = "$iothub/twin/PATCH/properties/reported/?$rid="
)

func eventsTopic(deviceID string) string {
	return "devices/" + deviceID + "/messages/events/%24.ct=application%2Fjson&%24.ce=utf-8"
}

func cloudToDeviceFilter(deviceID string) string {
	return "devices/" + deviceID + "/messages/devicebound/#"
}

func username(host, deviceID string) string {
	return host + "/" + deviceID + "/?api-version=" + APIVersion
}

// messageID pulls $.mid out of the property bag that IoT Hub appends to
// cloud-to-device topics.
func messageID(topic string) string {
	_, bag, ok := strings.Cut(topic, "/messages/devicebound/")
	if !ok || bag == "" {
		return ""
	}
	props, err := url.ParseQuery(bag)
	if err != nil {
		return ""
	}
	return props.Get("$.mid")
}

// parseTwinResponse splits $iothub/twin/res/{status}/?$rid={rid}&... into
// its status code and request id.
func parseTwinResponse(topic string) (status int, rid string, ok bool) {
	rest, found := strings.CutPrefix(topic, twinResponsePrefix)
	if !found {
		return 0, "", false
	}
	code, query, found := strings.Cut(rest, "/?")
	if !found {
		return 0, "", false
	}
	status, err := strconv.Atoi(code)
	if err != nil {
		return 0, "", false
	}
	props, err := url.ParseQuery(query)
	if err != nil {
		return 0, "", false
	}
	rid = props.Get("$rid")
	return status, rid, rid != ""
}
