// Copyright 2025 AxonFlow
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

/*
Package config loads the gateway configuration.

Values come from three layers, later layers winning:

 1. Built-in defaults (Default)
 2. A YAML file, with ${VAR} and ${VAR:-default} references expanded
 3. SQLGATE_* environment variables (ApplyEnv)

Load runs all three and then Validate. Durations are stored as integer
milliseconds or seconds in the file and exposed as time.Duration through
accessor methods.
*/
package config
