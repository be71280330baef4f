/*
Copyright Pollen Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package model

import (
	"errors"
	"fmt"
	"strings"
)

// Standard link relations and types used in WebFinger documents.
const (
	RelSelf = "self"
	RelLRDD = "lrdd"

	ActivityStreamsType = "application/activity+json"
	JRDType             = "application/jrd+json"
)

// ErrResourceNotFound indicates that the requested resource is not known to the server.
var ErrResourceNotFound = errors.New("resource not found")

// JRD is a JSON Resource Descriptor as defined in RFC 7033.
type JRD struct {
	Subject    string                 `json:"subject,omitempty"`
	Aliases    []string               `json:"aliases,omitempty"`
	Properties map[string]interface{} `json:"properties,omitempty"`
	Links      []Link                 `json:"links,omitempty"`
}

// Link is a link in a JRD.
// Note that while the host-meta and WebFinger endpoints both use this, only host-meta
// supports the Template field.
type Link struct {
	Rel      string `json:"rel,omitempty"`
	Type     string `json:"type,omitempty"`
	Href     string `json:"href,omitempty"`
	Template string `json:"template,omitempty"`
}

// LinkByRel returns the first link with the given relation, or nil if there is none.
func (jrd *JRD) LinkByRel(rel string) *Link {
	for i := range jrd.Links {
		if jrd.Links[i].Rel == rel {
			return &jrd.Links[i]
		}
	}

	return nil
}

// Acct returns the 'acct:' resource form of the given username and domain.
func Acct(username, domain string) string {
	return fmt.Sprintf("acct:%s@%s", username, domain)
}

// ParseAcct parses an 'acct:' resource (or a bare user@domain alias) into its username
// and domain parts.
func ParseAcct(resource string) (username, domain string, err error) {
	alias := strings.TrimPrefix(resource, "acct:")
	alias = strings.TrimPrefix(alias, "@")

	const acctParts = 2

	parts := strings.Split(alias, "@")
	if len(parts) != acctParts || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid acct resource [%s]", resource)
	}

	return parts[0], parts[1], nil
}
