/*
Copyright 2025 David Arnold
Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at
    http://www.apache.org/licenses/LICENSE-2.0
Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package core contains the provider-independent record types, OS inference,
// normalization and aggregation logic for census. Nothing in this package
// performs I/O; callers fetch raw resources and hand them in.
package core

import (
	"encoding/json"
	"strconv"
	"strings"
)

// Unknown is the sentinel used for every field whose source data is absent.
const Unknown = "Unknown"

// Scope is an account-level partition of resources: an Azure subscription,
// an AWS account/region pair or a GCP project.
type Scope struct {
	Name string
	ID   string
}

// Tag is a single key/value annotation. Tags are kept as an ordered slice so
// that the order reported by the source is what OS inference scans.
type Tag struct {
	Key   string
	Value string
}

// Identity holds the directly extractable fields of a raw resource. Nil means
// the source did not report the field.
type Identity struct {
	ID          *string
	Name        *string
	Group       *string
	Location    *string
	SizeOrClass *string
	// State is the lifecycle/power state when the listing itself carries it.
	State *string
}

// Resource is implemented by every provider-shaped raw resource description.
type Resource interface {
	Identity() Identity
	NetworkInterfaceCount() int
	Tags() []Tag
}

// ScopeIDResolver is optionally implemented by resources whose identifier
// encodes the enclosing scope id (Azure resource ids, AWS ARNs).
type ScopeIDResolver interface {
	ScopeIDFromResource() (string, bool)
}

// DiskSize is either a known size in gigabytes or unknown. The zero value is
// unknown.
type DiskSize struct {
	gb    int64
	known bool
}

// KnownDiskSize returns a DiskSize holding gb.
func KnownDiskSize(gb int64) DiskSize {
	return DiskSize{gb: gb, known: true}
}

// UnknownDiskSize is the DiskSize used when no size was reported.
var UnknownDiskSize = DiskSize{}

// Get returns the size and whether it is known.
func (d DiskSize) Get() (int64, bool) {
	return d.gb, d.known
}

// String renders the size, or Unknown.
func (d DiskSize) String() string {
	if !d.known {
		return Unknown
	}
	return strconv.FormatInt(d.gb, 10)
}

// MarshalJSON renders a number, or the string "Unknown".
func (d DiskSize) MarshalJSON() ([]byte, error) {
	if !d.known {
		return json.Marshal(Unknown)
	}
	return []byte(strconv.FormatInt(d.gb, 10)), nil
}

// UnmarshalJSON accepts either form produced by MarshalJSON, and sizes
// quoted as numeric strings.
func (d *DiskSize) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		if gb, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64); err == nil {
			*d = KnownDiskSize(gb)
			return nil
		}
		*d = UnknownDiskSize
		return nil
	}
	var n int64
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*d = KnownDiskSize(n)
	return nil
}

// MarshalYAML mirrors MarshalJSON for the YAML exporter.
func (d DiskSize) MarshalYAML() (interface{}, error) {
	if !d.known {
		return Unknown, nil
	}
	return d.gb, nil
}

// OSInfo is the result of OS inference.
type OSInfo struct {
	Type       string
	Name       string
	Version    string
	DiskSizeGB DiskSize
}

// UnknownOS returns an OSInfo with every field set to its unknown default.
func UnknownOS() OSInfo {
	return OSInfo{
		Type:       Unknown,
		Name:       Unknown,
		Version:    Unknown,
		DiskSizeGB: UnknownDiskSize,
	}
}

// Record is the flat, provider-independent description of one resource.
// Every field is always populated; absent data is Unknown, zero or empty.
type Record struct {
	Provider              string            `json:"provider" yaml:"provider"`
	ID                    string            `json:"id" yaml:"id"`
	Name                  string            `json:"name" yaml:"name"`
	Group                 string            `json:"group" yaml:"group"`
	Location              string            `json:"location" yaml:"location"`
	ScopeName             string            `json:"scopeName" yaml:"scopeName"`
	ScopeID               string            `json:"scopeId" yaml:"scopeId"`
	SizeOrClass           string            `json:"sizeOrClass" yaml:"sizeOrClass"`
	PowerOrState          string            `json:"powerOrState" yaml:"powerOrState"`
	OSType                string            `json:"osType" yaml:"osType"`
	OSName                string            `json:"osName" yaml:"osName"`
	OSVersion             string            `json:"osVersion" yaml:"osVersion"`
	DiskSizeGB            DiskSize          `json:"diskSizeGB" yaml:"diskSizeGB"`
	NetworkInterfaceCount int               `json:"networkInterfaceCount" yaml:"networkInterfaceCount"`
	Tags                  map[string]string `json:"tags" yaml:"tags"`
}

// Summary holds distribution counts over a record set.
type Summary struct {
	ByOSType   map[string]int `json:"byOsType" yaml:"byOsType"`
	ByState    map[string]int `json:"byState" yaml:"byState"`
	ByLocation map[string]int `json:"byLocation" yaml:"byLocation"`
	Total      int            `json:"total" yaml:"total"`
}

// Bucket is one label/count pair of a distribution.
type Bucket struct {
	Label string
	Count int
}
