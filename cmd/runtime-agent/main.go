/*
 * Copyright 2025 Carver Automation Corporation.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/carverauto/runtime-agent/pkg/version"
)

func main() {
	configPath := flag.String("config", defaultConfigPath, "Path to runtime agent config file")
	registryURL := flag.String("registry-url", "", "Registry NATS URL, overrides the config file")
	interval := flag.Duration("interval", 0, "Publication interval, overrides the config file")
	logLevel := flag.String("log-level", "", "Log level, overrides the config file")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.GetFullVersion())
		return
	}

	os.Exit(run(context.Background(), options{
		configPath:  *configPath,
		registryURL: *registryURL,
		interval:    *interval,
		logLevel:    *logLevel,
	}, defaultDeps()))
}
