package smartball

// DeviceID answers GET_ID (0x80) with RSP_ID (0x81). Rather than reading a
// hardware UID register directly, it reads an injected byte slice from
// DeviceProfile, so the same code runs unmodified on a fake device in
// tests.
type DeviceID struct {
	profile DeviceProfile
}

// NewDeviceID returns a DeviceID that reports identity from profile.
func NewDeviceID(profile DeviceProfile) *DeviceID {
	return &DeviceID{profile: profile}
}

// Response builds the RSP_ID payload: fw_version(2) protocol_version(1)
// hw_revision(1) uid_len(1) uid(uid_len).
func (d *DeviceID) Response() []byte {
	uid := d.profile.UID
	buf := make([]byte, 5+len(uid))
	buf[0] = byte(d.profile.FWVersion)
	buf[1] = byte(d.profile.FWVersion >> 8)
	buf[2] = d.profile.ProtocolVersion
	buf[3] = d.profile.HWRevision
	buf[4] = byte(len(uid))
	copy(buf[5:], uid)
	return buf
}
