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
	"os"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// SetupLogger sets configuration for the default logger
func SetupLogger() (err error) {
	var (
		lf = strings.ToLower(viper.GetString("output"))
		ll = viper.GetString("log-level")
	)

	log.SetOutput(os.Stderr)

	// Set log format
	switch lf {
	case "json":
		log.SetFormatter(&log.JSONFormatter{})
	default:
		log.SetFormatter(&log.TextFormatter{
			DisableLevelTruncation: true,
		})
	}

	if ll == "" {
		log.SetLevel(log.InfoLevel)
		return nil
	}
	level, err := log.ParseLevel(ll)
	if err != nil {
		return err
	}
	log.SetLevel(level)
	return nil
}

// ParseResourceID splits an Azure resource id of the form
// /subscriptions/<sub>/resourceGroups/<rg>/providers/<ns>/<type>/<name>
// into its key/value segments. Keys are lower-cased.
func ParseResourceID(id string) map[string]string {
	parts := strings.Split(strings.Trim(id, "/"), "/")
	out := make(map[string]string, len(parts)/2)
	for i := 0; i+1 < len(parts); i += 2 {
		out[strings.ToLower(parts[i])] = parts[i+1]
	}
	return out
}

// SubscriptionFromResourceID returns the subscription id embedded in an
// Azure resource id.
func SubscriptionFromResourceID(id string) (string, bool) {
	sub, ok := ParseResourceID(id)["subscriptions"]
	return sub, ok && sub != ""
}

// ResourceGroupFromResourceID returns the resource group embedded in an
// Azure resource id.
func ResourceGroupFromResourceID(id string) (string, bool) {
	rg, ok := ParseResourceID(id)["resourcegroups"]
	return rg, ok && rg != ""
}

// ARN holds the colon separated fields of an AWS ARN.
type ARN struct {
	Partition string
	Service   string
	Region    string
	AccountID string
	Resource  string
}

// ParseARN returns the fields of arn, or false if it is not an ARN.
func ParseARN(arn string) (ARN, bool) {
	s := strings.SplitN(arn, ":", 6)
	if len(s) != 6 || s[0] != "arn" {
		return ARN{}, false
	}
	return ARN{
		Partition: s[1],
		Service:   s[2],
		Region:    s[3],
		AccountID: s[4],
		Resource:  s[5],
	}, true
}

// LastPathSegment returns the text after the final "/" of s, used for GCE
// self links such as zones/us-central1-a/machineTypes/e2-medium.
func LastPathSegment(s string) string {
	if i := strings.LastIndex(s, "/"); i >= 0 {
		return s[i+1:]
	}
	return s
}
