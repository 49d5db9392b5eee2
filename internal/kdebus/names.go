package kdebus

import "strings"

// KDE Connect bus names. The daemon exports every device under a
// common object tree on the session bus.
const (
	Service  = "org.kde.kdeconnect"
	BasePath = "/modules/kdeconnect"

	DaemonInterface        = "org.kde.kdeconnect.daemon"
	DeviceInterface        = "org.kde.kdeconnect.device"
	ConversationsInterface = "org.kde.kdeconnect.device.conversations"
	SmsInterface           = "org.kde.kdeconnect.device.sms"
	ShareInterface         = "org.kde.kdeconnect.device.share"
	TelephonyInterface     = "org.kde.kdeconnect.device.telephony"
	BatteryInterface       = "org.kde.kdeconnect.device.battery"
	NotificationsInterface = "org.kde.kdeconnect.device.notifications"

	PropertiesInterface = "org.freedesktop.DBus.Properties"
)

// DevicePath returns the object path of one device.
func DevicePath(deviceID string) string {
	return BasePath + "/devices/" + deviceID
}

// SmsPath returns the object path of a device's SMS plugin.
func SmsPath(deviceID string) string {
	return DevicePath(deviceID) + "/sms"
}

// TelephonyPath returns the object path of a device's telephony plugin.
func TelephonyPath(deviceID string) string {
	return DevicePath(deviceID) + "/telephony"
}

// SharePath returns the object path of a device's share plugin.
func SharePath(deviceID string) string {
	return DevicePath(deviceID) + "/share"
}

// BatteryPath returns the object path of a device's battery plugin.
func BatteryPath(deviceID string) string {
	return DevicePath(deviceID) + "/battery"
}

// DeviceIDFromPath extracts the device ID from any object path under
// the device tree. Returns "" when the path is not a device path.
func DeviceIDFromPath(path string) string {
	prefix := BasePath + "/devices/"
	rest, ok := strings.CutPrefix(path, prefix)
	if !ok || rest == "" {
		return ""
	}
	if i := strings.IndexByte(rest, '/'); i >= 0 {
		rest = rest[:i]
	}
	return rest
}
