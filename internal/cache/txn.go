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

import "sync/atomic"

// TransactionManager hands out Transaction handles and maintains a
// single term counter whose parity tells every TransactionalCache
// bucket whether a write transaction is currently open: even means no
// writer is open, odd means one is. Readers compare their own term
// against a bucket's recorded banishTerm to decide whether a found
// value is allowed to be returned (see TransactionalBucket.isBanished).
type TransactionManager struct {
	openReads     atomic.Int64
	openSensitive atomic.Int64
	openWrites    atomic.Int64
	term          atomic.Uint64
}

// NewTransactionManager returns a manager with term starting at 0
// (even: no writer open).
func NewTransactionManager() *TransactionManager {
	return &TransactionManager{}
}

// transactionKind distinguishes the three kinds of transaction a
// caller may begin. Sensitive transactions are read-only with respect
// to term parity but are tracked with their own open-count, separate
// from plain reads (see DESIGN.md for the reasoning).
type transactionKind int

const (
	txnReadOnly transactionKind = iota
	txnSensitive
	txnWrite
)

// Transaction is the handle returned by Begin/BeginSensitive. It must
// be passed to End exactly once.
type Transaction struct {
	kind     transactionKind
	termSeen uint64
}

// Term returns the term this transaction observed at Begin.
func (t Transaction) Term() uint64 { return t.termSeen }

// Begin opens a transaction. readOnly transactions never change term
// parity; a write transaction that transitions openWrites from 0 to 1
// makes term odd.
func (m *TransactionManager) Begin(readOnly bool) Transaction {
	if readOnly {
		m.openReads.Add(1)
		return Transaction{kind: txnReadOnly, termSeen: m.term.Load()}
	}
	if m.openWrites.Add(1) == 1 {
		m.term.Add(1)
	}
	return Transaction{kind: txnWrite, termSeen: m.term.Load()}
}

// BeginSensitive opens a sensitive read transaction: tracked via its
// own counter but, like a read-only transaction, never changes term
// parity (see the transactionKind doc comment).
func (m *TransactionManager) BeginSensitive() Transaction {
	m.openSensitive.Add(1)
	return Transaction{kind: txnSensitive, termSeen: m.term.Load()}
}

// End closes a transaction previously returned by Begin/BeginSensitive.
// A write transaction that transitions openWrites to 0 makes term even
// again.
func (m *TransactionManager) End(tx Transaction) {
	switch tx.kind {
	case txnWrite:
		if m.openWrites.Add(-1) == 0 {
			m.term.Add(1)
		}
	case txnSensitive:
		m.openSensitive.Add(-1)
	default:
		m.openReads.Add(-1)
	}
}

// Term returns the current term. Its parity conveys "is any writer
// open right now": even means no, odd means yes.
func (m *TransactionManager) Term() uint64 {
	return m.term.Load()
}

// OpenReads, OpenSensitive, and OpenWrites expose the live transaction
// counts, mainly for diagnostics and tests.
func (m *TransactionManager) OpenReads() int64     { return m.openReads.Load() }
func (m *TransactionManager) OpenSensitive() int64 { return m.openSensitive.Load() }
func (m *TransactionManager) OpenWrites() int64    { return m.openWrites.Load() }
