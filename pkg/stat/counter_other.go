/*
Copyright © 2021 GUILLAUME FOURNIER

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

//go:build !linux

package stat

import (
	"github.com/pkg/errors"
)

// ErrUnsupported is returned on systems without uprobes
var ErrUnsupported = errors.New("site counters are only available on linux")

// SiteCounter counts the hits of probe sites
type SiteCounter struct {
	sites []Site
}

// NewSiteCounter creates a new SiteCounter instance
func NewSiteCounter(sites []Site, _ Options) *SiteCounter {
	return &SiteCounter{sites: sites}
}

// Start always fails
func (c *SiteCounter) Start() error {
	return ErrUnsupported
}

// Stop returns an empty report
func (c *SiteCounter) Stop() (Report, error) {
	return NewReport(0, c.sites), ErrUnsupported
}
