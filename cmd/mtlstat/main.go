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

// mtlstat is a small diagnostic CLI, following facebook-time's calnex/cmd
// cobra-based RootCmd shape: it prints the effective configuration and
// serves the stats package's Prometheus registry, since the transport
// library itself has no standalone daemon process (it's embedded by an
// application).
package main

import (
	log "github.com/sirupsen/logrus"

	"github.com/OpenVisualCloud/mtl-go/cmd/mtlstat/cmd"
)

func main() {
	if err := cmd.RootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
