package discovery

import (
	"fmt"
	"sort"
	"strings"
)

// TXTRecordMap is a map of TXT record key-value pairs.
type TXTRecordMap map[string]string

// EncodeRobotTXT creates TXT records for a robot advertisement.
func EncodeRobotTXT(info *RobotInfo) TXTRecordMap {
	txt := TXTRecordMap{
		TXTKeyRole:    RoleRobot,
		TXTKeyVersion: ProtocolVersion,
	}
	if info.DisplayName != "" {
		txt[TXTKeyName] = info.DisplayName
	}
	if len(info.Devices) > 0 {
		txt[TXTKeyDevices] = strings.Join(info.Devices, ",")
	}
	return txt
}

// DecodeRobotTXT parses TXT records from a robot advertisement. Records
// whose role is not "robot" are rejected.
func DecodeRobotTXT(txt TXTRecordMap) (*RobotService, error) {
	role, ok := txt[TXTKeyRole]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMissingRequired, TXTKeyRole)
	}
	if role != RoleRobot {
		return nil, fmt.Errorf("%w: role %q", ErrInvalidTXTRecord, role)
	}
	ver, ok := txt[TXTKeyVersion]
	if !ok || ver == "" {
		return nil, fmt.Errorf("%w: %s", ErrMissingRequired, TXTKeyVersion)
	}

	svc := &RobotService{
		Version:     ver,
		DisplayName: txt[TXTKeyName],
	}
	for _, d := range strings.Split(txt[TXTKeyDevices], ",") {
		if d = strings.TrimSpace(d); d != "" {
			svc.Devices = append(svc.Devices, d)
		}
	}
	return svc, nil
}

// TXTRecordsToStrings converts a TXTRecordMap to "key=value" strings,
// sorted by key.
func TXTRecordsToStrings(txt TXTRecordMap) []string {
	result := make([]string, 0, len(txt))
	for k, v := range txt {
		result = append(result, k+"="+v)
	}
	sort.Strings(result)
	return result
}

// StringsToTXTRecords parses "key=value" strings into a TXTRecordMap.
func StringsToTXTRecords(strs []string) TXTRecordMap {
	txt := make(TXTRecordMap)
	for _, s := range strs {
		k, v, found := strings.Cut(s, "=")
		if found {
			txt[k] = v
		} else if k != "" {
			// Key without value
			txt[k] = ""
		}
	}
	return txt
}

// ValidateInstanceName checks if an instance name is valid for mDNS.
func ValidateInstanceName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty name", ErrInvalidInstanceName)
	}
	if len(name) > MaxInstanceNameLen {
		return ErrInstanceNameTooLong
	}
	if strings.ContainsAny(name, ".\x00") {
		return fmt.Errorf("%w: %q", ErrInvalidInstanceName, name)
	}
	return nil
}
