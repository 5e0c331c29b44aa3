package event

import "encoding/json"

// DecodeData decodes e.Data into out, which must be a pointer to the
// struct matching e.Kind (e.g. *NodeCreatedData for KindNodeCreated). Data
// arrives as map[string]interface{} after a JSON round trip through the
// event log, or already as a concrete struct when constructed in-process;
// routing through json.Marshal/Unmarshal handles both uniformly.
func (e Envelope) DecodeData(out interface{}) error {
	raw, err := json.Marshal(e.Data)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}
