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

package util

import (
	"testing"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

func TestSubscriptionFromResourceID(t *testing.T) {
	tests := []struct {
		name   string
		id     string
		want   string
		wantOK bool
	}{
		{
			name:   "VM id",
			id:     "/subscriptions/0000-1111/resourceGroups/rg-web/providers/Microsoft.Compute/virtualMachines/vm-a",
			want:   "0000-1111",
			wantOK: true,
		},
		{
			name:   "mixed case key",
			id:     "/SUBSCRIPTIONS/abc/resourcegroups/rg",
			want:   "abc",
			wantOK: true,
		},
		{
			name:   "empty",
			id:     "",
			wantOK: false,
		},
		{
			name:   "no subscription segment",
			id:     "/providers/Microsoft.Compute",
			wantOK: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := SubscriptionFromResourceID(tt.id)
			if ok != tt.wantOK {
				t.Fatalf("SubscriptionFromResourceID(%q) ok = %v, want %v", tt.id, ok, tt.wantOK)
			}
			if got != tt.want {
				t.Errorf("SubscriptionFromResourceID(%q) = %q, want %q", tt.id, got, tt.want)
			}
		})
	}
}

func TestResourceGroupFromResourceID(t *testing.T) {
	id := "/subscriptions/sub/resourceGroups/RG-Data/providers/Microsoft.Compute/virtualMachines/vm"
	if rg, ok := ResourceGroupFromResourceID(id); !ok || rg != "RG-Data" {
		t.Errorf("ResourceGroupFromResourceID(%q) = %q, %v", id, rg, ok)
	}
}

func TestParseARN(t *testing.T) {
	arn := "arn:aws:kafka:eu-west-1:123456789012:cluster/orders/6a3e-2"
	got, ok := ParseARN(arn)
	if !ok {
		t.Fatalf("ParseARN(%q) not ok", arn)
	}
	if got.Region != "eu-west-1" || got.AccountID != "123456789012" || got.Service != "kafka" {
		t.Errorf("ParseARN(%q) = %+v", arn, got)
	}
	if got.Resource != "cluster/orders/6a3e-2" {
		t.Errorf("ParseARN(%q).Resource = %q", arn, got.Resource)
	}

	if _, ok := ParseARN("not-an-arn"); ok {
		t.Errorf("ParseARN accepted a non-ARN")
	}
}

func TestLastPathSegment(t *testing.T) {
	tests := map[string]string{
		"https://www.googleapis.com/compute/v1/projects/p/zones/us-central1-a/machineTypes/e2-medium": "e2-medium",
		"zones/us-central1-a": "us-central1-a",
		"plain":               "plain",
	}
	for in, want := range tests {
		if got := LastPathSegment(in); got != want {
			t.Errorf("LastPathSegment(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestSetupLogger(t *testing.T) {
	tests := []struct {
		name       string
		outputType string
		checkFunc  func(*testing.T, log.Formatter)
	}{
		{
			name:       "JSON formatter",
			outputType: "json",
			checkFunc: func(t *testing.T, formatter log.Formatter) {
				_, ok := formatter.(*log.JSONFormatter)
				if !ok {
					t.Errorf("Expected JSONFormatter, got %T", formatter)
				}
			},
		},
		{
			name:       "Text formatter default",
			outputType: "table",
			checkFunc: func(t *testing.T, formatter log.Formatter) {
				_, ok := formatter.(*log.TextFormatter)
				if !ok {
					t.Errorf("Expected TextFormatter, got %T", formatter)
				}
			},
		},
		{
			name:       "Text formatter for unknown type",
			outputType: "unknown",
			checkFunc: func(t *testing.T, formatter log.Formatter) {
				_, ok := formatter.(*log.TextFormatter)
				if !ok {
					t.Errorf("Expected TextFormatter, got %T", formatter)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			viper.Set("output", tt.outputType)
			err := SetupLogger()
			if err != nil {
				t.Errorf("SetupLogger() returned error: %v", err)
			}

			tt.checkFunc(t, log.StandardLogger().Formatter)

			// Reset logger state
			viper.Set("output", "table")
		})
	}
}

func TestSetupLoggerLevel(t *testing.T) {
	viper.Set("log-level", "debug")
	defer viper.Set("log-level", "")

	if err := SetupLogger(); err != nil {
		t.Fatalf("SetupLogger() returned error: %v", err)
	}
	if log.GetLevel() != log.DebugLevel {
		t.Errorf("log level = %v, want debug", log.GetLevel())
	}

	viper.Set("log-level", "loud")
	if err := SetupLogger(); err == nil {
		t.Errorf("SetupLogger() accepted an invalid level")
	}
}
