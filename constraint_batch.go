package cm3

// ConstraintBatch is a set of constraints that share no body. Each constraint
// type present in the batch has one TypeBatch.
type ConstraintBatch struct {
	// TypeIndexToTypeBatchIndex maps a type id to its slot in TypeBatches, or -1.
	TypeIndexToTypeBatchIndex []int32
	TypeBatches               []TypeBatch
	// BodyHandles marks every body referenced by the batch.
	BodyHandles IndexSet
}

// CanFit reports whether a constraint over handles can join the batch.
func (b *ConstraintBatch) CanFit(handles []BodyHandle) bool {
	return b.BodyHandles.CanFit(handles)
}

// TypeBatch returns the type batch for typeID, or nil.
func (b *ConstraintBatch) TypeBatch(typeID int32) *TypeBatch {
	if int(typeID) >= len(b.TypeIndexToTypeBatchIndex) {
		return nil
	}
	index := b.TypeIndexToTypeBatchIndex[typeID]
	if index < 0 {
		return nil
	}
	return &b.TypeBatches[index]
}

// ConstraintCount returns the number of constraints across all type batches.
func (b *ConstraintBatch) ConstraintCount() int {
	n := 0
	for i := range b.TypeBatches {
		n += b.TypeBatches[i].Count()
	}
	return n
}

func (b *ConstraintBatch) getOrCreateTypeBatch(processor TypeProcessor) *TypeBatch {
	typeID := processor.TypeID()
	for int(typeID) >= len(b.TypeIndexToTypeBatchIndex) {
		b.TypeIndexToTypeBatchIndex = append(b.TypeIndexToTypeBatchIndex, -1)
	}
	if index := b.TypeIndexToTypeBatchIndex[typeID]; index >= 0 {
		return &b.TypeBatches[index]
	}
	b.TypeIndexToTypeBatchIndex[typeID] = int32(len(b.TypeBatches))
	b.TypeBatches = append(b.TypeBatches, newTypeBatch(processor))
	return &b.TypeBatches[len(b.TypeBatches)-1]
}

// removeTypeBatch deletes an empty type batch and shifts the mapping of every
// type batch stored after it.
func (b *ConstraintBatch) removeTypeBatch(typeID int32) {
	removed := b.TypeIndexToTypeBatchIndex[typeID]
	assert(b.TypeBatches[removed].Count() == 0, "cm3: type batch %d is not empty", typeID)
	b.TypeBatches = append(b.TypeBatches[:removed], b.TypeBatches[removed+1:]...)
	b.TypeIndexToTypeBatchIndex[typeID] = -1
	for i, index := range b.TypeIndexToTypeBatchIndex {
		if index > removed {
			b.TypeIndexToTypeBatchIndex[i] = index - 1
		}
	}
}
