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

package gateway

import "context"

// contextKey is a private type for context keys to avoid collisions
// with other packages that might use string keys.
type contextKey string

const gatewayContextKey contextKey = "gateway"

// WithGateway stores g in ctx so request handlers reach the service
// instance without a package-level singleton.
func WithGateway(ctx context.Context, g *Gateway) context.Context {
	return context.WithValue(ctx, gatewayContextKey, g)
}

// FromContext returns the gateway stored by WithGateway, or nil.
func FromContext(ctx context.Context) *Gateway {
	if g, ok := ctx.Value(gatewayContextKey).(*Gateway); ok {
		return g
	}
	return nil
}
