// Package model 封装预测模型接口。
//
// 训练过程、模型结构与持久化格式都不在本仓库范围内；这里只约定
// “定宽特征向量进、[0,1] 概率出”的推理契约，并提供一个从导出的
// JSON 权重文件加载的线性模型实现。模型必须在首个 tick 处理之前
// 加载完成，加载失败是启动期致命错误。
package model

import (
	"encoding/json"
	"math"
	"os"
	"strings"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"
)

// Predictor 预测模型接口：输入定宽特征向量，输出 [0,1] 概率。
// 推理必须是无副作用的纯调用，可在单事件路径上同步执行。
type Predictor interface {
	Predict(features []float64) (float64, error)
	InputDim() int
}

// ErrShapeMismatch 特征向量长度与模型输入维度不一致。
// 启动后出现属于编程/配置错误，决策循环必须停机而不是继续下单。
var ErrShapeMismatch = errors.New("model: feature vector shape mismatch")

// weightsFile 导出的 JSON 权重格式
type weightsFile struct {
	Version       int       `json:"version"`
	SchemaVersion int       `json:"schema_version"` // 训练时的特征顺序版本
	Features      []string  `json:"features"`
	Weights       []float64 `json:"weights"`
	Bias          float64   `json:"bias"`
}

// LinearModel 线性 + sigmoid 模型（训练侧导出的蒸馏权重）
type LinearModel struct {
	weights       []float64
	bias          float64
	features      []string
	schemaVersion int
}

// Load 从本地路径或 http(s) URL 加载模型权重
func Load(source string) (*LinearModel, error) {
	var data []byte
	var err error

	if strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://") {
		client := resty.New()
		resp, rerr := client.R().Get(source)
		if rerr != nil {
			return nil, errors.Wrapf(rerr, "下载模型权重失败: %s", source)
		}
		if resp.IsError() {
			return nil, errors.Errorf("下载模型权重失败: %s status=%d", source, resp.StatusCode())
		}
		data = resp.Body()
	} else {
		data, err = os.ReadFile(source)
		if err != nil {
			return nil, errors.Wrapf(err, "读取模型权重失败: %s", source)
		}
	}

	var wf weightsFile
	if err := json.Unmarshal(data, &wf); err != nil {
		return nil, errors.Wrap(err, "解析模型权重失败")
	}
	if len(wf.Weights) == 0 {
		return nil, errors.New("模型权重为空")
	}
	if len(wf.Features) > 0 && len(wf.Features) != len(wf.Weights) {
		return nil, errors.Errorf("模型权重与特征名数量不一致: weights=%d features=%d",
			len(wf.Weights), len(wf.Features))
	}

	return &LinearModel{
		weights:       wf.Weights,
		bias:          wf.Bias,
		features:      wf.Features,
		schemaVersion: wf.SchemaVersion,
	}, nil
}

// InputDim 模型期望的输入维度
func (m *LinearModel) InputDim() int {
	return len(m.weights)
}

// SchemaVersion 训练时的特征顺序版本（0 表示权重文件未记录）
func (m *LinearModel) SchemaVersion() int {
	return m.schemaVersion
}

// Predict 推理：w·x + b 过 sigmoid。
// 维度不匹配返回 ErrShapeMismatch，绝不吞掉产出畸形预测。
func (m *LinearModel) Predict(features []float64) (float64, error) {
	if len(features) != len(m.weights) {
		return 0, errors.Wrapf(ErrShapeMismatch, "got=%d want=%d", len(features), len(m.weights))
	}

	z := m.bias
	for i, w := range m.weights {
		z += w * features[i]
	}
	return 1 / (1 + math.Exp(-z)), nil
}
