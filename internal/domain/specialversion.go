// Copyright (c) 2025, the Kapowarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package domain

// SpecialVersion classifies a volume and drives which naming template
// post-processing applies.
type SpecialVersion string

const (
	SpecialVersionNone          SpecialVersion = ""
	SpecialVersionTPB           SpecialVersion = "tpb"
	SpecialVersionOneShot       SpecialVersion = "one-shot"
	SpecialVersionHardCover     SpecialVersion = "hard-cover"
	SpecialVersionOmnibus       SpecialVersion = "omnibus"
	SpecialVersionVolumeAsIssue SpecialVersion = "volume-as-issue"
)

// IsSpecial reports whether the volume uses the special-version naming
// template instead of the normal issue template.
func (sv SpecialVersion) IsSpecial() bool {
	return sv != SpecialVersionNone && sv != SpecialVersionVolumeAsIssue
}

// ShortName is the abbreviation used in file names; LongName the
// spelled-out variant.
func (sv SpecialVersion) ShortName() string {
	switch sv {
	case SpecialVersionTPB:
		return "TPB"
	case SpecialVersionOneShot:
		return "OS"
	case SpecialVersionHardCover:
		return "HC"
	case SpecialVersionOmnibus:
		return "OMB"
	default:
		return ""
	}
}

func (sv SpecialVersion) LongName() string {
	switch sv {
	case SpecialVersionTPB:
		return "Trade Paperback"
	case SpecialVersionOneShot:
		return "One-Shot"
	case SpecialVersionHardCover:
		return "Hard-Cover"
	case SpecialVersionOmnibus:
		return "Omnibus"
	default:
		return ""
	}
}

// BlocklistReason is the reason code attached to a blocklist entry.
type BlocklistReason int

const (
	BlocklistReasonLinkBroken BlocklistReason = iota + 1
	BlocklistReasonSourceNotSupported
	BlocklistReasonNoWorkingService
	BlocklistReasonAddedByUser
	BlocklistReasonFailedDownload
)

func (r BlocklistReason) String() string {
	switch r {
	case BlocklistReasonLinkBroken:
		return "Link broken"
	case BlocklistReasonSourceNotSupported:
		return "Source not supported"
	case BlocklistReasonNoWorkingService:
		return "No working service found"
	case BlocklistReasonAddedByUser:
		return "Added by user"
	case BlocklistReasonFailedDownload:
		return "Download failed"
	default:
		return "Unknown"
	}
}

// Valid reports whether the reason code is one of the known codes.
func (r BlocklistReason) Valid() bool {
	return r >= BlocklistReasonLinkBroken && r <= BlocklistReasonFailedDownload
}
