// Copyright 2023 Versity Software
// This file is licensed under the Apache License, Version 2.0
// (the "License"); you may not use this file except in compliance
// with the License.  You may obtain a copy of the License at
//
//   http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing,
// software distributed under the License is distributed on an
// "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY
// KIND, either express or implied.  See the License for the
// specific language governing permissions and limitations
// under the License.

package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

var sigDone = make(chan bool, 1)

// setupSignalHandler reports the first SIGINT or SIGTERM on sigDone. A
// second one exits immediately without cleanup.
func setupSignalHandler() {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		caught := false
		for sig := range sigs {
			if caught {
				fmt.Fprintf(os.Stderr, "caught second signal %v, exiting without cleanup\n", sig)
				os.Exit(130)
			}
			caught = true
			fmt.Fprintf(os.Stderr, "caught signal %v\n", sig)
			sigDone <- true
		}
	}()
}
