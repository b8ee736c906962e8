// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package mempool

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/Menutra/Cache-Cash/crypto"
	"github.com/Menutra/Cache-Cash/domain/blockchain"
	"github.com/Menutra/Cache-Cash/domain/types"
	"github.com/Menutra/Cache-Cash/netparams"
	"github.com/Menutra/Cache-Cash/util/cryptohash"
)

// ChainBackend is the view of the blockchain store the pool validates
// against.
type ChainBackend interface {
	CheckStandaloneTransaction(tx *types.Transaction) error
	IsKeyImageSpent(image crypto.KeyImage) bool
	TipHeight() uint64
}

// unlockHeightWindow bounds how far above the current tip a height-based
// unlock time may reach before the transaction is refused as unminable for
// the foreseeable future. Time-based unlocks get the equivalent in seconds.
const unlockHeightWindow = 10000

// timeUnlockBoundary mirrors the chain's boundary between height-based and
// timestamp-based unlock values.
const timeUnlockBoundary = 500000000

// Entry is one pooled transaction with the metadata the pool selects and
// expires by.
type Entry struct {
	Tx          *types.Transaction
	Hash        cryptohash.Hash
	Fee         uint64
	Size        uint64
	ReceiveTime time.Time
	KeyImages   []crypto.KeyImage
}

// FeeRate returns the entry's fee per serialized byte, the ordering key of
// template fill.
func (e *Entry) FeeRate() float64 {
	return float64(e.Fee) / float64(e.Size)
}

// Pool is the transaction mempool: admission-gated by semantic validation,
// key-image freshness and the fee floor, drained by block template fill and
// block connection.
type Pool struct {
	params *netparams.Params
	chain  ChainBackend

	lock      sync.RWMutex
	entries   map[cryptohash.Hash]*Entry
	keyImages map[crypto.KeyImage]cryptohash.Hash
}

// New returns an empty pool validating against the given chain backend.
func New(params *netparams.Params, chain ChainBackend) *Pool {
	return &Pool{
		params:    params,
		chain:     chain,
		entries:   make(map[cryptohash.Hash]*Entry),
		keyImages: make(map[crypto.KeyImage]cryptohash.Hash),
	}
}

// maxTxSize is the largest transaction the pool accepts.
func (p *Pool) maxTxSize() uint64 {
	return p.params.MaxBlockSize / 4
}

// AddTransaction offers a transaction to the pool. added is false with a nil
// error when the pool already holds the transaction. A non-nil error is a
// TxRuleError naming the rejection.
func (p *Pool) AddTransaction(tx *types.Transaction) (added bool, err error) {
	hash, err := tx.Hash()
	if err != nil {
		return false, txRuleError(RejectInvalidSemantics, err.Error())
	}

	p.lock.Lock()
	defer p.lock.Unlock()

	if _, exists := p.entries[hash]; exists {
		return false, nil
	}

	size, err := tx.SerializeSize()
	if err != nil {
		return false, txRuleError(RejectInvalidSemantics, err.Error())
	}
	if uint64(size) > p.maxTxSize() {
		return false, txRuleError(RejectTooLarge,
			fmt.Sprintf("transaction %s is %d bytes, limit %d", hash, size, p.maxTxSize()))
	}

	if err := p.checkUnlockTime(tx); err != nil {
		return false, err
	}

	// Key images must be fresh against both the confirmed chain and the
	// pool's own pending set.
	images := tx.KeyImages()
	for _, image := range images {
		if p.chain.IsKeyImageSpent(image) {
			return false, txRuleError(RejectKeyImageAlreadyUsed,
				fmt.Sprintf("transaction %s double-spends confirmed key image %s", hash, image))
		}
		if holder, pending := p.keyImages[image]; pending {
			return false, txRuleError(RejectKeyImageAlreadyUsed,
				fmt.Sprintf("transaction %s reuses key image %s held by pooled %s",
					hash, image, holder))
		}
	}

	if err := p.chain.CheckStandaloneTransaction(tx); err != nil {
		return false, translateChainError(err)
	}

	fee, err := blockchain.TransactionFee(tx)
	if err != nil {
		return false, txRuleError(RejectInvalidSemantics, err.Error())
	}
	minimumFee := uint64(size) * p.params.MinimumFeePerByte
	if fee < minimumFee {
		return false, txRuleError(RejectFeeBelowMinimum,
			fmt.Sprintf("transaction %s pays %d, floor is %d for %d bytes",
				hash, fee, minimumFee, size))
	}

	entry := &Entry{
		Tx:          tx,
		Hash:        hash,
		Fee:         fee,
		Size:        uint64(size),
		ReceiveTime: time.Now(),
		KeyImages:   images,
	}
	p.entries[hash] = entry
	for _, image := range images {
		p.keyImages[image] = hash
	}
	log.Debugf("Accepted transaction %s into the pool (%d pooled)", hash, len(p.entries))
	return true, nil
}

// checkUnlockTime refuses transactions whose own unlock time is so far out
// they would sit unminable.
func (p *Pool) checkUnlockTime(tx *types.Transaction) error {
	if tx.UnlockTime == 0 {
		return nil
	}
	if tx.UnlockTime < timeUnlockBoundary {
		if tx.UnlockTime > p.chain.TipHeight()+unlockHeightWindow {
			return txRuleError(RejectUnlockInFuture,
				fmt.Sprintf("unlock height %d is beyond the admission window", tx.UnlockTime))
		}
		return nil
	}
	limit := uint64(time.Now().Unix()) + unlockHeightWindow*uint64(p.params.DifficultyTarget.Seconds())
	if tx.UnlockTime > limit {
		return txRuleError(RejectUnlockInFuture,
			fmt.Sprintf("unlock time %d is beyond the admission window", tx.UnlockTime))
	}
	return nil
}

// translateChainError maps the chain's validation errors onto the pool's
// rejection codes.
func translateChainError(err error) error {
	var ruleErr blockchain.RuleError
	if !errors.As(err, &ruleErr) {
		return txRuleError(RejectInvalidSemantics, err.Error())
	}
	switch ruleErr.ErrorCode {
	case blockchain.ErrKeyImageSpent:
		return txRuleError(RejectKeyImageAlreadyUsed, ruleErr.Description)
	case blockchain.ErrRingMemberUnknown, blockchain.ErrRingMemberLocked:
		return txRuleError(RejectRingMemberUnknown, ruleErr.Description)
	case blockchain.ErrSignatureInvalid:
		return txRuleError(RejectSignatureInvalid, ruleErr.Description)
	default:
		return txRuleError(RejectInvalidSemantics, ruleErr.Description)
	}
}

// HaveTransaction returns whether the pool holds the given transaction.
func (p *Pool) HaveTransaction(hash cryptohash.Hash) bool {
	p.lock.RLock()
	defer p.lock.RUnlock()
	_, ok := p.entries[hash]
	return ok
}

// GetTransaction returns a pooled transaction.
func (p *Pool) GetTransaction(hash cryptohash.Hash) (*types.Transaction, bool) {
	p.lock.RLock()
	defer p.lock.RUnlock()
	entry, ok := p.entries[hash]
	if !ok {
		return nil, false
	}
	return entry.Tx, true
}

// TakeTransaction removes and returns a pooled transaction.
func (p *Pool) TakeTransaction(hash cryptohash.Hash) (*types.Transaction, bool) {
	p.lock.Lock()
	defer p.lock.Unlock()
	entry, ok := p.entries[hash]
	if !ok {
		return nil, false
	}
	p.removeEntry(entry)
	return entry.Tx, true
}

// removeEntry drops an entry and its key image claims. Callers hold the
// write lock.
func (p *Pool) removeEntry(entry *Entry) {
	delete(p.entries, entry.Hash)
	for _, image := range entry.KeyImages {
		delete(p.keyImages, image)
	}
}

// Count returns the number of pooled transactions.
func (p *Pool) Count() int {
	p.lock.RLock()
	defer p.lock.RUnlock()
	return len(p.entries)
}

// TransactionHashes returns the hashes of all pooled transactions.
func (p *Pool) TransactionHashes() []cryptohash.Hash {
	p.lock.RLock()
	defer p.lock.RUnlock()
	hashes := make([]cryptohash.Hash, 0, len(p.entries))
	for hash := range p.entries {
		hashes = append(hashes, hash)
	}
	return hashes
}

// IsKeyImagePending returns whether a pooled transaction already claims the
// key image.
func (p *Pool) IsKeyImagePending(image crypto.KeyImage) bool {
	p.lock.RLock()
	defer p.lock.RUnlock()
	_, ok := p.keyImages[image]
	return ok
}

// FillBlockTemplate selects transactions by descending fee rate until the
// size budget is exhausted. Pool entries never share key images, so the
// selection needs no exclusion pass.
func (p *Pool) FillBlockTemplate(budgetSize uint64) []blockchain.TemplateTx {
	p.lock.RLock()
	defer p.lock.RUnlock()

	candidates := make([]*Entry, 0, len(p.entries))
	for _, entry := range p.entries {
		candidates = append(candidates, entry)
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].FeeRate() != candidates[j].FeeRate() {
			return candidates[i].FeeRate() > candidates[j].FeeRate()
		}
		// Stable order under equal rates: earliest received first.
		return candidates[i].ReceiveTime.Before(candidates[j].ReceiveTime)
	})

	selected := make([]blockchain.TemplateTx, 0, len(candidates))
	var used uint64
	for _, entry := range candidates {
		if used+entry.Size > budgetSize {
			continue
		}
		used += entry.Size
		selected = append(selected, blockchain.TemplateTx{Tx: entry.Tx, Fee: entry.Fee})
	}
	return selected
}

// HandleBlockConnected removes transactions included in a newly connected
// block, along with any pooled transaction whose key images the block spent
// out from under it.
func (p *Pool) HandleBlockConnected(data *blockchain.BlockConnectedData) {
	p.lock.Lock()
	defer p.lock.Unlock()

	for _, hash := range data.Block.TxHashes {
		if entry, ok := p.entries[hash]; ok {
			p.removeEntry(entry)
		}
	}
	for _, tx := range data.Transactions {
		for _, image := range tx.KeyImages() {
			if holder, ok := p.keyImages[image]; ok {
				log.Debugf("Evicting pooled transaction %s: key image %s was "+
					"confirmed by block %s", holder, image, data.Hash)
				p.removeEntry(p.entries[holder])
			}
		}
	}
}

// HandleChainReorganized re-offers the transactions of rolled-back blocks
// and evicts every pooled transaction the new chain state invalidates.
func (p *Pool) HandleChainReorganized(data *blockchain.ChainReorganizedData) {
	for _, tx := range data.DetachedTransactions {
		if _, err := p.AddTransaction(tx); err != nil {
			if hash, hashErr := tx.Hash(); hashErr == nil {
				log.Debugf("Detached transaction %s not re-pooled: %v", hash, err)
			}
		}
	}
	p.revalidate()
}

// revalidate drops every entry the current chain state no longer accepts:
// rings that lost a member, key images spent by the new branch.
func (p *Pool) revalidate() {
	p.lock.Lock()
	defer p.lock.Unlock()

	for hash, entry := range p.entries {
		valid := true
		for _, image := range entry.KeyImages {
			if p.chain.IsKeyImageSpent(image) {
				valid = false
				break
			}
		}
		if valid {
			if err := p.chain.CheckStandaloneTransaction(entry.Tx); err != nil {
				valid = false
			}
		}
		if !valid {
			log.Infof("Evicting transaction %s invalidated by reorganization", hash)
			p.removeEntry(entry)
		}
	}
}

// RemoveExpired evicts entries older than the pool lifetime and returns how
// many were dropped.
func (p *Pool) RemoveExpired(now time.Time) int {
	p.lock.Lock()
	defer p.lock.Unlock()

	removed := 0
	for hash, entry := range p.entries {
		if now.Sub(entry.ReceiveTime) > p.params.MempoolTxLifetime {
			log.Debugf("Expiring transaction %s after %s in the pool",
				hash, now.Sub(entry.ReceiveTime))
			p.removeEntry(entry)
			removed++
		}
	}
	return removed
}
