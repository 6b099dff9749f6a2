package core

import (
	"fmt"
	"strconv"
	"strings"
)

// ImageReference is the marketplace/image metadata a VM was created from.
type ImageReference struct {
	Publisher *string
	Offer     *string
	SKU       *string
	Version   *string
}

// OSHints is what a provider extracts from a detailed resource description
// for OS inference. Nil pointers mean the source did not carry the field.
type OSHints struct {
	// LinuxConfiguration and WindowsConfiguration report whether the OS
	// profile carried the respective configuration block.
	LinuxConfiguration   bool
	WindowsConfiguration bool
	// OSType is an explicit OS-type marker such as storageProfile.osDisk.osType.
	OSType *string
	// DiskSizeGB is the OS disk size as reported, before numeric validation.
	DiskSizeGB *string
	Image      *ImageReference
	Tags       []Tag
	// ResourceName is used only to label warnings.
	ResourceName string
}

// OSDescriber is implemented by raw resources that carry OS hints themselves.
type OSDescriber interface {
	OSHints() OSHints
}

// TagMatcher decides whether a tag key names the operating system.
type TagMatcher func(key string) bool

// LooseOSTagMatcher matches any key containing "os" or "system", ignoring
// case. Keys such as "costcenter" or "ecosystem" match as well.
func LooseOSTagMatcher(key string) bool {
	k := strings.ToLower(key)
	return strings.Contains(k, "os") || strings.Contains(k, "system")
}

var strictOSTagKeys = map[string]struct{}{
	"os":               {},
	"os-name":          {},
	"os_name":          {},
	"osname":           {},
	"operatingsystem":  {},
	"operating-system": {},
	"operating_system": {},
}

// StrictOSTagMatcher matches only keys that name the OS outright.
func StrictOSTagMatcher(key string) bool {
	_, ok := strictOSTagKeys[strings.ToLower(key)]
	return ok
}

// TagMatcherByName returns the matcher registered under name ("loose" or
// "strict"). Unknown names fall back to the loose matcher.
func TagMatcherByName(name string) TagMatcher {
	if strings.EqualFold(name, "strict") {
		return StrictOSTagMatcher
	}
	return LooseOSTagMatcher
}

// InferOptions configures InferOS.
type InferOptions struct {
	// TagMatcher selects the OS tag; nil means LooseOSTagMatcher.
	TagMatcher TagMatcher
}

// InferOS derives OS type, name, version and disk size from hints. The first
// match wins for each field; a matching tag overrides the image-derived name.
// On error the partially inferred OSInfo is still returned.
func InferOS(h OSHints, opts InferOptions) (OSInfo, error) {
	info := UnknownOS()

	switch {
	case h.LinuxConfiguration:
		info.Type = "Linux"
	case h.WindowsConfiguration:
		info.Type = "Windows"
	case h.OSType != nil && *h.OSType != "":
		info.Type = *h.OSType
	}

	var err error
	if h.DiskSizeGB != nil {
		raw := strings.TrimSpace(*h.DiskSizeGB)
		gb, perr := strconv.ParseInt(raw, 10, 64)
		if perr != nil {
			err = fmt.Errorf("os disk size %q of %s is not numeric: %w", raw, h.ResourceName, perr)
		} else {
			info.DiskSizeGB = KnownDiskSize(gb)
		}
	}

	if img := h.Image; img != nil {
		switch {
		case present(img.Offer) && present(img.SKU):
			info.Name = *img.Offer + " " + *img.SKU
		case present(img.Publisher) && present(img.Offer):
			info.Name = *img.Publisher + " " + *img.Offer
		}
		// "latest" names no particular build.
		if present(img.Version) && !strings.EqualFold(*img.Version, "latest") {
			info.Version = *img.Version
		}
	}

	match := opts.TagMatcher
	if match == nil {
		match = LooseOSTagMatcher
	}
	for _, t := range h.Tags {
		if match(t.Key) {
			info.Name = t.Value
			break
		}
	}

	return info, err
}

func present(s *string) bool {
	return s != nil && *s != ""
}
