package serializer

import (
	"encoding/json"

	"github.com/ValentinKolb/dSync/lib/protocol"
)

// NewJSONSerializer creates a new serializer using json encoding. A frame
// looks like {"topic":"RECORD","action":"UPDATE","data":["name","1-x","{}"]}.
func NewJSONSerializer() IRPCSerializer {
	return &jsonSerializerImpl{}
}

// jsonSerializerImpl implements the IRPCSerializer interface using json encoding
type jsonSerializerImpl struct {
}

// --------------------------------------------------------------------------
// Interface Methods (docu see serializer.IRPCSerializer)
// --------------------------------------------------------------------------

func (j jsonSerializerImpl) Serialize(msg protocol.Message) ([]byte, error) {
	return json.Marshal(msg)
}

func (j jsonSerializerImpl) Deserialize(b []byte, msg *protocol.Message) error {
	*msg = protocol.Message{}
	return json.Unmarshal(b, msg)
}
