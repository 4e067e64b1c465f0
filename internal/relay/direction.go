// Package relay implements the translation relay: it validates a translation
// request, selects the direction's system instruction and streams the
// upstream chat completion back to the caller unmodified.
package relay

// Direction selects which way a text is translated.
type Direction string

const (
	// PMToDev turns a product requirement into a technical plan.
	PMToDev Direction = "pm-to-dev"
	// DevToPM turns a technical description into business value.
	DevToPM Direction = "dev-to-pm"
)

// Directions lists every supported direction.
var Directions = []Direction{PMToDev, DevToPM}

// Valid reports whether d is a supported direction.
func (d Direction) Valid() bool {
	_, ok := instructions[d]
	return ok
}

func (d Direction) String() string { return string(d) }

// Instruction returns the system instruction for d. There is no default:
// ok is false for an unsupported direction.
func (d Direction) Instruction() (string, bool) {
	s, ok := instructions[d]
	return s, ok
}

var instructions = map[Direction]string{
	PMToDev: `你是一名资深技术负责人，负责把产品经理的需求翻译成开发工程师能直接落地的技术方案。
请基于用户给出的产品需求输出：
1. **需求理解**：用一两句话复述核心目标。
2. **技术方案**：涉及的模块、接口与数据模型。
3. **实现要点**：关键流程、边界条件与异常处理。
4. **工作量与风险**：粗略估算并指出技术风险。
使用 Markdown 输出，保持简洁、具体。`,

	DevToPM: `你是一名懂技术的产品负责人，负责把开发工程师的技术描述翻译成产品经理和业务方能理解的业务价值。
请基于用户给出的技术描述输出：
1. **一句话总结**：这项工作带来了什么改变。
2. **业务价值**：对用户体验、效率、成本或收入的影响。
3. **可感知的变化**：用户或运营能直接看到的效果。
4. **需要关注的事项**：上线影响、依赖或风险。
避免技术术语，使用 Markdown 输出，保持简洁。`,
}
