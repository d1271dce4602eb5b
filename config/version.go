/*
Copyright (c) Facebook, Inc. and its affiliates.

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

package config

import (
	"fmt"

	"github.com/hashicorp/go-version"
)

// LibraryVersion is this library's own release version, compared against
// a peer's advertised version during negotiation (a redundant port pair
// or a neighboring mtlstat build) to catch a wire-format mismatch before
// it surfaces as a hard-to-diagnose reassembly failure.
const LibraryVersion = "1.0.0"

// MinPeerVersion is the oldest peer version this build still interops
// with; bump it only alongside a breaking change to the RTP header
// extensions or redundancy protocol.
const MinPeerVersion = "1.0.0"

// CheckPeerVersion reports whether peerVersion satisfies MinPeerVersion,
// using semver precedence (so "1.2.0" satisfies a "1.0.0" floor but
// "0.9.0" does not).
func CheckPeerVersion(peerVersion string) error {
	peer, err := version.NewVersion(peerVersion)
	if err != nil {
		return fmt.Errorf("config: invalid peer version %q: %w", peerVersion, err)
	}
	min, err := version.NewVersion(MinPeerVersion)
	if err != nil {
		return fmt.Errorf("config: invalid MinPeerVersion %q: %w", MinPeerVersion, err)
	}
	if peer.LessThan(min) {
		return fmt.Errorf("config: peer version %s is older than minimum supported %s", peer, min)
	}
	return nil
}
