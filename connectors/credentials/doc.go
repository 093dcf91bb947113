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
Package credentials seals connection profile passwords.

Passwords are stored as "v1:" + base64url(nonce || XChaCha20-Poly1305
ciphertext). The AEAD key is derived with HKDF-SHA256 from a server-held
secret supplied by a KeySource:

  - EnvKeySource reads it from an environment variable
  - AWSSecretsManagerKeySource reads it from AWS Secrets Manager, cached
  - StaticKeySource holds it in memory (tests)

Decrypted passwords are handed to the pool manager, which keeps them only
inside a pool handle and calls Wipe when the handle is closed.
*/
package credentials
