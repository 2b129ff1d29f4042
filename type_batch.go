package cm3

// TypeBatch holds every constraint of one type within a batch. Body indices are
// stored with a stride of BodiesPerConstraint.
type TypeBatch struct {
	TypeID              int32
	BodiesPerConstraint int
	IndexToHandle       []ConstraintHandle
	BodyIndices         []int32
	constraints         constraintStorage
}

func newTypeBatch(processor TypeProcessor) TypeBatch {
	return TypeBatch{
		TypeID:              processor.TypeID(),
		BodiesPerConstraint: processor.BodiesPerConstraint(),
		constraints:         processor.newStorage(),
	}
}

// Count returns the number of constraints in the type batch.
func (tb *TypeBatch) Count() int {
	return len(tb.IndexToHandle)
}

// Bodies returns the active body indices of the constraint in slot index.
func (tb *TypeBatch) Bodies(index int32) []int32 {
	stride := int32(tb.BodiesPerConstraint)
	return tb.BodyIndices[index*stride : (index+1)*stride]
}

func (tb *TypeBatch) add(handle ConstraintHandle, bodyIndices []int32, desc ConstraintDescription) int32 {
	assert(len(bodyIndices) == tb.BodiesPerConstraint, "cm3: type %d takes %d bodies, got %d",
		tb.TypeID, tb.BodiesPerConstraint, len(bodyIndices))
	index := tb.constraints.add(desc)
	tb.IndexToHandle = append(tb.IndexToHandle, handle)
	tb.BodyIndices = append(tb.BodyIndices, bodyIndices...)
	return index
}

// removeAt moves the last constraint into index and reports the moved handle.
func (tb *TypeBatch) removeAt(index int32) (ConstraintHandle, bool) {
	last := int32(tb.Count() - 1)
	tb.constraints.removeAt(index)
	stride := int32(tb.BodiesPerConstraint)
	moved := index != last
	if moved {
		tb.IndexToHandle[index] = tb.IndexToHandle[last]
		copy(tb.BodyIndices[index*stride:(index+1)*stride], tb.BodyIndices[last*stride:(last+1)*stride])
	}
	tb.IndexToHandle = tb.IndexToHandle[:last]
	tb.BodyIndices = tb.BodyIndices[:last*stride]
	if !moved {
		return 0, false
	}
	return tb.IndexToHandle[index], true
}
