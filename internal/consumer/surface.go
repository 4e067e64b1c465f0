package consumer

import "github.com/tjfontaine/pmdev-translator/internal/relay"

// Texts shown by surfaces.
const (
	PlaceholderText   = "翻译结果将显示在这里..."
	EmptyInputMessage = "请输入内容"
	FailurePrefix     = "翻译失败: "
	CopyLabel         = "复制"
	CopiedLabel       = "已复制"
)

// Labels are the pane titles for one direction.
type Labels struct {
	Input            string
	Output           string
	InputPlaceholder string
}

var directionLabels = map[relay.Direction]Labels{
	relay.PMToDev: {
		Input:            "产品需求",
		Output:           "技术方案",
		InputPlaceholder: "请输入产品需求描述...",
	},
	relay.DevToPM: {
		Input:            "技术描述",
		Output:           "业务价值",
		InputPlaceholder: "请输入技术实现描述...",
	},
}

// LabelsFor returns the pane titles for d.
func LabelsFor(d relay.Direction) (Labels, bool) {
	l, ok := directionLabels[d]
	return l, ok
}

// Surface is the render target a Session drives. Calls may come from any
// goroutine; implementations marshal them onto their UI thread.
type Surface interface {
	// SetDirection marks d as active and shows its labels.
	SetDirection(d relay.Direction, labels Labels)
	// ClearInput empties the input field and focuses it.
	ClearInput()
	// SetLoading shows or hides the loading indicator and disables or
	// enables every control that can start a request.
	SetLoading(loading bool)
	// ShowPlaceholder replaces the output with PlaceholderText.
	ShowPlaceholder()
	// ShowOutput replaces the output with rendered text.
	ShowOutput(rendered string)
	// ShowError replaces the output with a failure message.
	ShowError(message string)
	// ShowValidation tells the user why a submit was refused.
	ShowValidation(message string)
	// SetCopyVisible shows or hides the copy action.
	SetCopyVisible(visible bool)
	// SetCopyLabel changes the copy action's label.
	SetCopyLabel(label string)
	// ScrollToBottom moves the output to its maximum scroll position.
	ScrollToBottom()
}
