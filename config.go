package smartball

import (
	"io"
	"io/ioutil"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"
)

// DeviceProfile describes the memory layout and identity constants for one
// board revision, loaded from YAML. Unlike a host-side-only profile, this
// one is consumed by the device core itself (via NewSession/NewBootGate),
// not just by a host tool.
type DeviceProfile struct {
	SlotAAddr  uint32 `yaml:"slot_a_addr"`
	SlotBAddr  uint32 `yaml:"slot_b_addr"`
	StagingSize uint32 `yaml:"staging_size"`
	FlagAddr   uint32 `yaml:"flag_addr"`

	EraseSector uint32 `yaml:"erase_sector"`
	DataPage    uint32 `yaml:"data_page"`

	ConfirmWindowSeconds int `yaml:"confirm_window_seconds"`
	MaxConsecutiveFails  int `yaml:"max_consecutive_fails"`

	FWVersion       uint16 `yaml:"fw_version"`
	ProtocolVersion uint8  `yaml:"protocol_version"`
	HWRevision      uint8  `yaml:"hw_revision"`
	FirmwareBuildID uint16 `yaml:"firmware_build_id"`
	UID             []byte `yaml:"uid"`
}

// DefaultProfile returns the reference board's memory map and identity
// constants.
func DefaultProfile() DeviceProfile {
	return DeviceProfile{
		SlotAAddr:            DefaultSlotAAddr,
		SlotBAddr:            DefaultSlotBAddr,
		StagingSize:          DefaultStagingSize,
		FlagAddr:             DefaultFlagSectAddr,
		EraseSector:          OTAEraseSector,
		DataPage:             OTADataPage,
		ConfirmWindowSeconds: ConfirmWindowSeconds,
		MaxConsecutiveFails:  MaxConsecutiveFails,
	}
}

// LoadProfile parses a YAML device profile on top of DefaultProfile: fields
// the document does not mention keep their default values, so a profile only
// needs to override what differs from the reference board. A field the
// document sets explicitly, even to zero, takes the document's value.
func LoadProfile(r io.Reader) (DeviceProfile, error) {
	data, err := ioutil.ReadAll(r)
	if err != nil {
		return DeviceProfile{}, errors.Wrap(err, "read profile")
	}
	profile := DefaultProfile()
	if err := yaml.Unmarshal(data, &profile); err != nil {
		return DeviceProfile{}, errors.Wrap(err, "parse profile yaml")
	}
	return profile, nil
}
