// Copyright 2025 The hbcache Authors
//
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

package cache

// plainTable and txnTable name the two concrete Table instantiations
// the Manager pools and leases. Kept as aliases so manager.go and
// tasks.go don't repeat the two-type-parameter spelling everywhere.
type (
	plainTable = Table[PlainBucket, *PlainBucket]
	txnTable   = Table[TransactionalBucket, *TransactionalBucket]
)
