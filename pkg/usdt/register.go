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

//go:build !darwin

package usdt

var defaultRegistrar = NewRegistrar()

// Register registers the probes linked in the process. Errors mean that tracing is unavailable, they should be
// logged and ignored.
func Register() error {
	return defaultRegistrar.Register()
}
